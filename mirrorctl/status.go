package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/bringyour/mirror/mirror"
)

type StatusResult struct {
	Version    string      `json:"version,omitempty"`
	Status     string      `json:"status"`
	Host       string      `json:"host"`
	Paths      []string    `json:"paths"`
	Sessions   int         `json:"sessions"`
	SessionIds []mirror.Id `json:"session_ids"`
}

type Status struct {
	server *mirror.Server
}

func (self *Status) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionIds := self.server.SessionIds()
	result := &StatusResult{
		Version:    RequireVersion(),
		Status:     "ok",
		Host:       Host(),
		Paths:      self.server.Registry().Paths(),
		Sessions:   len(sessionIds),
		SessionIds: sessionIds,
	}

	responseJson, err := json.Marshal(result)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(responseJson)
}

func GetStatus(statusUrl string) (*StatusResult, error) {
	response, err := http.Get(statusUrl)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Status %s returned %s.", statusUrl, response.Status)
	}

	result := &StatusResult{}
	if err := json.NewDecoder(response.Body).Decode(result); err != nil {
		return nil, err
	}
	return result, nil
}

func Host() string {
	if host := os.Getenv("MIRROR_HOST"); host != "" {
		return host
	}
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return ""
}
