package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// mockChecker — мок ReadinessChecker.
type mockChecker struct {
	status, message string
}

func (m mockChecker) CheckReady() (string, string) { return m.status, m.message }

type fixedClients int

func (c fixedClients) Clients() int { return int(c) }

func TestHealthLive(t *testing.T) {
	h := NewHealthHandler(nil, fixedClients(3))
	rec := httptest.NewRecorder()
	h.HealthLive(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("код = %d", rec.Code)
	}
	var resp healthLiveResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if resp.Status != "ok" || resp.Service != "xg-server" || resp.Clients != 3 {
		t.Errorf("ответ = %+v", resp)
	}
}

func TestHealthReady(t *testing.T) {
	tests := []struct {
		name       string
		checker    ReadinessChecker
		wantCode   int
		wantStatus string
	}{
		{"хранилище отключено", nil, http.StatusOK, "ok"},
		{"PostgreSQL доступен", mockChecker{"ok", "подключение активно"}, http.StatusOK, "ok"},
		{"PostgreSQL деградирован", mockChecker{"degraded", "медленно"}, http.StatusOK, "degraded"},
		{"PostgreSQL недоступен", mockChecker{"fail", "нет соединения"}, http.StatusServiceUnavailable, "fail"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.checker, nil)
			rec := httptest.NewRecorder()
			h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("код = %d, ожидался %d", rec.Code, tt.wantCode)
			}
			var resp healthReadyResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("статус = %q, ожидался %q", resp.Status, tt.wantStatus)
			}
		})
	}
}
