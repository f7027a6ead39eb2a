package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/finalverse/finalverse/internal/logging"
	"github.com/finalverse/finalverse/internal/stream"
	"github.com/finalverse/finalverse/internal/vec"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Источники фильтрует CORS middleware, апгрейд разрешаем всем
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// handleStreamUpdates апгрейдит соединение до WebSocket и стримит клиенту
// дельты его зоны интереса. Интерес задаётся query-параметрами:
//
//	?regions=terra_nova,other      — явный список регионов
//	?x=..&y=..&z=..&radius=..      — сфера вокруг точки
//
// Без параметров подписка покрывает весь мир.
func (rs *RestServer) handleStreamUpdates(c *gin.Context) {
	interest := parseInterest(c)

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn("Не удалось апгрейдить WebSocket: %v", err)
		return
	}

	sub := rs.streamer.Register(interest)
	defer rs.streamer.Unregister(sub.ID)
	defer conn.Close()

	logging.Info("WebSocket подписчик %s подключён (%s)", sub.ID, c.ClientIP())

	// Читающая горутина: замечаем закрытие соединения клиентом
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(wsPingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-done:
			return

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case delta, ok := <-sub.Updates():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(delta); err != nil {
				logging.Debug("Запись дельты подписчику %s: %v", sub.ID, err)
				return
			}
		}
	}
}

// parseInterest извлекает зону интереса из query-параметров
func parseInterest(c *gin.Context) stream.Interest {
	var interest stream.Interest

	if raw := c.Query("regions"); raw != "" {
		interest.Regions = strings.Split(raw, ",")
		return interest
	}

	var center vec.Vec3Float
	var radius float64
	okX := scanFloat(c.Query("x"), &center.X)
	okY := scanFloat(c.Query("y"), &center.Y)
	okZ := scanFloat(c.Query("z"), &center.Z)
	okR := scanFloat(c.Query("radius"), &radius)
	if okX && okY && okZ && okR && radius > 0 {
		interest.Center = &center
		interest.Radius = radius
	}

	return interest
}

func scanFloat(raw string, dst *float64) bool {
	if raw == "" {
		return false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return false
	}
	*dst = v
	return true
}
