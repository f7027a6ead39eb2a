package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const baseURL = "http://localhost:8080"

// Тестовый клиент для ручной проверки REST API и стриминга движка мира.
// Запускается против работающего сервера: go run test_client.go
func main() {
	fmt.Println("=== ТЕСТОВЫЙ КЛИЕНТ ДВИЖКА МИРА ===")

	fmt.Println("\n=== ТЕСТ 1: HEALTH CHECK ===")
	testHealth()

	fmt.Println("\n=== ТЕСТ 2: СОСТОЯНИЕ МИРА ===")
	testWorldState()

	fmt.Println("\n=== ТЕСТ 3: СПАВН И ДВИЖЕНИЕ ===")
	id := testSpawn()
	if id != 0 {
		testMove(id)
	}

	fmt.Println("\n=== ТЕСТ 4: СТРИМИНГ ДЕЛЬТ ===")
	testStream()

	fmt.Println("\n=== ТЕСТИРОВАНИЕ ЗАВЕРШЕНО ===")
}

func testHealth() {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		log.Printf("❌ Health недоступен: %v", err)
		return
	}
	defer resp.Body.Close()

	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	fmt.Printf("✅ %d: %v\n", resp.StatusCode, body["status"])
}

func testWorldState() {
	resp, err := http.Get(baseURL + "/api/world/state")
	if err != nil {
		log.Printf("❌ Ошибка запроса состояния: %v", err)
		return
	}
	defer resp.Body.Close()

	var body struct {
		Data struct {
			WorldID       string  `json:"world_id"`
			Tick          uint64  `json:"tick"`
			GlobalHarmony float64 `json:"global_harmony"`
			GlobalDiscord float64 `json:"global_discord"`
		} `json:"data"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	fmt.Printf("🌍 Мир %s, тик %d, гармония %.2f, дискорд %.2f\n",
		body.Data.WorldID, body.Data.Tick, body.Data.GlobalHarmony, body.Data.GlobalDiscord)
}

func testSpawn() uint64 {
	req := map[string]any{
		"type":     "player",
		"position": map[string]float64{"x": 100, "y": 10, "z": 100},
		"yaw":      45,
	}
	data, _ := json.Marshal(req)

	resp, err := http.Post(baseURL+"/api/entities", "application/json", bytes.NewReader(data))
	if err != nil {
		log.Printf("❌ Ошибка спавна: %v", err)
		return 0
	}
	defer resp.Body.Close()

	var body struct {
		Data struct {
			ID uint64 `json:"id"`
		} `json:"data"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	fmt.Printf("✅ Сущность создана: id=%d\n", body.Data.ID)
	return body.Data.ID
}

func testMove(id uint64) {
	req := map[string]any{
		"type":      "Move",
		"entity_id": id,
		"position":  map[string]float64{"x": 110, "y": 10, "z": 110},
		"yaw":       90,
	}
	data, _ := json.Marshal(req)

	resp, err := http.Post(baseURL+"/api/actions", "application/json", bytes.NewReader(data))
	if err != nil {
		log.Printf("❌ Ошибка действия: %v", err)
		return
	}
	defer resp.Body.Close()
	fmt.Printf("✅ Move: HTTP %d\n", resp.StatusCode)
}

func testStream() {
	wsURL := "ws://localhost:8080/ws/updates?regions=terra_nova"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		log.Printf("❌ Не удалось открыть WebSocket: %v", err)
		return
	}
	defer conn.Close()

	fmt.Println("📡 Подписка открыта, ждём три дельты...")
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))

	for i := 0; i < 3; i++ {
		var delta struct {
			Tick    uint64 `json:"tick"`
			Resync  bool   `json:"resync"`
			Regions []struct {
				ID      string  `json:"id"`
				Harmony float64 `json:"harmony_level"`
				Discord float64 `json:"discord_level"`
			} `json:"regions"`
		}
		if err := conn.ReadJSON(&delta); err != nil {
			log.Printf("❌ Ошибка чтения дельты: %v", err)
			return
		}
		fmt.Printf("📦 Дельта: тик %d, resync=%v, регионов %d\n",
			delta.Tick, delta.Resync, len(delta.Regions))
	}
	fmt.Println("✅ Стриминг работает")
}
