package roof

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/sweeney/obsy-sentinel/internal/gpio"
)

// Routes returns the roof HTTP API:
//
//	GET  /roof/sensors/open   {"roof_sensors_opened": bool}
//	GET  /roof/sensors/close  {"roof_sensors_closed": bool}
//	POST /roof/motor/open     {"roof_motor_open": bool, "reason": "..."}
//	POST /roof/motor/close    {"roof_motor_close": bool, "reason": "..."}
//	POST /roof/motor/stop     {"roof_motor_stop": bool, "reason": "..."}
//	GET  /roof/status         Snapshot
func Routes(c *Controller) chi.Router {
	r := chi.NewRouter()
	r.Get("/roof/sensors/open", sensor(c, gpio.InputOpenLimit, "roof_sensors_opened"))
	r.Get("/roof/sensors/close", sensor(c, gpio.InputClosedLimit, "roof_sensors_closed"))
	r.Post("/roof/motor/open", motor(c, IntentOpen, "roof_motor_open"))
	r.Post("/roof/motor/close", motor(c, IntentClose, "roof_motor_close"))
	r.Post("/roof/motor/stop", motor(c, IntentStop, "roof_motor_stop"))
	r.Get("/roof/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, c.Snapshot())
	})
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func sensor(c *Controller, in gpio.Input, key string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		active, err := c.Sensor(in)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{key: active})
	}
}

func motor(c *Controller, intent Intent, key string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := c.Request(r.Context(), intent)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		body := map[string]any{key: res.Accepted}
		if res.Reason != "" {
			body["reason"] = res.Reason
		}
		writeJSON(w, http.StatusOK, body)
	}
}
