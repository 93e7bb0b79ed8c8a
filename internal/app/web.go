package app

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/hip_kinematics/internal/angles"
	"github.com/relabs-tech/hip_kinematics/internal/config"
	"github.com/relabs-tech/hip_kinematics/internal/orientation"
	"github.com/relabs-tech/hip_kinematics/internal/pipeline"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// webUpdate is one push frame on the /ws socket.
type webUpdate struct {
	Side   string        `json:"side"`
	Angles angles.Sample `json:"angles"`
}

// webState caches the latest message per topic for the JSON endpoints.
type webState struct {
	mu     sync.RWMutex
	poses  map[string]orientation.Pose
	angles map[string]angles.Sample

	clientsMu sync.Mutex
	clients   map[*websocket.Conn]struct{}
}

func (s *webState) broadcast(u webUpdate) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for conn := range s.clients {
		if err := conn.WriteJSON(u); err != nil {
			s.dropClientLocked(conn)
		}
	}
}

// dropClient removes a connection from the broadcast set and closes it.
// Both the broadcast path and the read drain funnel through here; the map
// check makes the second caller a no-op.
func (s *webState) dropClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.dropClientLocked(conn)
}

func (s *webState) dropClientLocked(conn *websocket.Conn) {
	if _, ok := s.clients[conn]; !ok {
		return
	}
	delete(s.clients, conn)
	conn.Close()
}

// RunWeb serves the live session view: JSON endpoints for the latest
// orientation and hip angles, a websocket pushing angle updates as they
// arrive, and the static front end.
func RunWeb() error {
	cfg := config.Get()

	state := &webState{
		poses:   make(map[string]orientation.Pose),
		angles:  make(map[string]angles.Sample),
		clients: make(map[*websocket.Conn]struct{}),
	}

	// 1) Connect to MQTT broker
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTT.Broker).
		SetClientID(cfg.MQTT.ClientID + "-web")

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("web: MQTT connect: %w", token.Error())
	}
	log.Printf("web: connected to MQTT broker at %s", cfg.MQTT.Broker)

	// 2) Subscribe to pose and angle topics, caching the latest of each
	for _, sensor := range []string{
		pipeline.SensorPelvis,
		pipeline.SensorLeftThigh,
		pipeline.SensorRightThigh,
		pipeline.SensorLeftShank,
		pipeline.SensorRightShank,
	} {
		sensor := sensor
		token := client.Subscribe(cfg.MQTT.PoseTopic(sensor), 0, func(_ mqtt.Client, msg mqtt.Message) {
			var p orientation.Pose
			if err := json.Unmarshal(msg.Payload(), &p); err != nil {
				log.Printf("web: pose unmarshal error: %v", err)
				return
			}
			state.mu.Lock()
			state.poses[sensor] = p
			state.mu.Unlock()
		})
		if token.Wait(); token.Error() != nil {
			return fmt.Errorf("web: subscribe pose %s: %w", sensor, token.Error())
		}
	}
	for _, side := range []string{"left", "right"} {
		side := side
		token := client.Subscribe(cfg.MQTT.AngleTopic(side), 0, func(_ mqtt.Client, msg mqtt.Message) {
			var a angles.Sample
			if err := json.Unmarshal(msg.Payload(), &a); err != nil {
				log.Printf("web: angle unmarshal error: %v", err)
				return
			}
			state.mu.Lock()
			state.angles[side] = a
			state.mu.Unlock()
			state.broadcast(webUpdate{Side: side, Angles: a})
		})
		if token.Wait(); token.Error() != nil {
			return fmt.Errorf("web: subscribe angles %s: %w", side, token.Error())
		}
	}
	log.Println("web: subscribed to pose and angle topics")

	// 3) JSON API: latest per-sensor orientation and per-side angles
	http.HandleFunc("/api/orientation", func(w http.ResponseWriter, r *http.Request) {
		state.mu.RLock()
		defer state.mu.RUnlock()

		if len(state.poses) == 0 {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(state.poses); err != nil {
			log.Printf("web: json encode error: %v", err)
		}
	})
	http.HandleFunc("/api/angles", func(w http.ResponseWriter, r *http.Request) {
		state.mu.RLock()
		defer state.mu.RUnlock()

		if len(state.angles) == 0 {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(state.angles); err != nil {
			log.Printf("web: json encode error: %v", err)
		}
	})

	// 4) Websocket push of angle updates
	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("web: websocket upgrade error: %v", err)
			return
		}
		state.clientsMu.Lock()
		state.clients[conn] = struct{}{}
		state.clientsMu.Unlock()
		log.Printf("web: websocket client connected (%s)", r.RemoteAddr)

		// Drain the read side so pings and the close handshake work; the
		// broadcast path drops the client on write failure.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					state.dropClient(conn)
					return
				}
			}
		}()
	})

	// 5) Static files as the root
	http.Handle("/", http.FileServer(http.Dir(cfg.Web.StaticDir)))

	addr := fmt.Sprintf(":%d", cfg.Web.Port)
	log.Printf("web server listening on %s", addr)
	return http.ListenAndServe(addr, nil)
}
