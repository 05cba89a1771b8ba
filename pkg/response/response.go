// pkg/response/response.go
package response

import (
	"encoding/json"
	"net/http"
)

type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func JSON(w http.ResponseWriter, status int, data interface{}) {
	write(w, status, APIResponse{
		Status: "success",
		Data:   data,
	})
}

// Degraded writes an error envelope that still carries data, e.g. health details
func Degraded(w http.ResponseWriter, status int, msg string, data interface{}) {
	write(w, status, APIResponse{
		Status:  "error",
		Message: msg,
		Data:    data,
	})
}

// Message writes a success envelope carrying a message instead of data
func Message(w http.ResponseWriter, status int, msg string, data interface{}) {
	write(w, status, APIResponse{
		Status:  "success",
		Message: msg,
		Data:    data,
	})
}

func Error(w http.ResponseWriter, status int, msg string) {
	write(w, status, APIResponse{
		Status:  "error",
		Message: msg,
	})
}

func write(w http.ResponseWriter, status int, resp APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
