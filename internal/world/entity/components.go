package entity

// Закрытый типизированный набор компонентов сущности.
// Свободная JSON-схема исходного хранилища заменена фиксированными
// вариантами: расширение набора — добавление нового поля и Kind.

// ComponentKind дискриминатор типа компонента
type ComponentKind string

const (
	KindAppearance ComponentKind = "appearance"
	KindBehavior   ComponentKind = "behavior"
	KindInventory  ComponentKind = "inventory"
)

// Component общий интерфейс возможностей компонента
type Component interface {
	Kind() ComponentKind
}

// Appearance внешний вид сущности
type Appearance struct {
	Model   string  `json:"model"`
	Palette string  `json:"palette,omitempty"`
	Scale   float64 `json:"scale,omitempty"`
}

// Kind возвращает тип компонента
func (a *Appearance) Kind() ComponentKind { return KindAppearance }

// BehaviorState состояние поведения (для существ и Эхо)
type BehaviorState struct {
	State  string  `json:"state"`
	Target ID      `json:"target,omitempty"`
	Mood   float64 `json:"mood,omitempty"`
}

// Kind возвращает тип компонента
func (b *BehaviorState) Kind() ComponentKind { return KindBehavior }

// InventoryRef ссылка на инвентарь во внешней подсистеме
type InventoryRef struct {
	InventoryID string `json:"inventory_id"`
}

// Kind возвращает тип компонента
func (i *InventoryRef) Kind() ComponentKind { return KindInventory }

// Components набор компонентов сущности
type Components struct {
	Appearance *Appearance    `json:"appearance,omitempty"`
	Behavior   *BehaviorState `json:"behavior,omitempty"`
	Inventory  *InventoryRef  `json:"inventory,omitempty"`
}

// All возвращает ненулевые компоненты набора
func (c Components) All() []Component {
	var out []Component
	if c.Appearance != nil {
		out = append(out, c.Appearance)
	}
	if c.Behavior != nil {
		out = append(out, c.Behavior)
	}
	if c.Inventory != nil {
		out = append(out, c.Inventory)
	}
	return out
}

// clone возвращает глубокую копию набора компонентов
func (c Components) clone() Components {
	out := Components{}
	if c.Appearance != nil {
		a := *c.Appearance
		out.Appearance = &a
	}
	if c.Behavior != nil {
		b := *c.Behavior
		out.Behavior = &b
	}
	if c.Inventory != nil {
		i := *c.Inventory
		out.Inventory = &i
	}
	return out
}
