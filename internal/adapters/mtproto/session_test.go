package mtproto

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/gotd/td/session"

	"ride-match-bot/internal/adapters/repo"
)

func TestNormalizeSessionNative(t *testing.T) {
	raw := []byte(` {"Version":1,"Data":{"DC":2}} `)
	out, converted, err := NormalizeSession(raw)
	if err != nil || converted {
		t.Fatalf("родной формат не должен конвертироваться: %v %v", converted, err)
	}
	if string(out) != strings.TrimSpace(string(raw)) {
		t.Fatalf("данные изменены: %s", out)
	}
}

func TestNormalizeSessionTelethonRows(t *testing.T) {
	key := strings.Repeat("ab", 256)
	raw := []byte(`[{"dc_id":2,"server_address":"149.154.167.51","port":443,"auth_key":"` + key + `"}]`)
	out, converted, err := NormalizeSession(raw)
	if err != nil || !converted {
		t.Fatalf("ожидали конвертацию: %v %v", converted, err)
	}
	var payload struct {
		Version int
		Data    session.Data
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.Version != 1 || payload.Data.DC != 2 || payload.Data.Addr != "149.154.167.51:443" || len(payload.Data.AuthKey) != 256 {
		t.Fatalf("неверная сессия: %+v", payload)
	}
}

func TestNormalizeSessionRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "   ", "{\"foo\":1}"} {
		if _, _, err := NormalizeSession([]byte(raw)); !errors.Is(err, ErrUnsupportedSession) {
			t.Fatalf("ожидали ErrUnsupportedSession для %q, получили %v", raw, err)
		}
	}
}

func TestSessionDB(t *testing.T) {
	ctx := context.Background()
	store := repo.NewMemory()
	s := NewSessionDB(store, "main")
	if _, err := s.LoadSession(ctx); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("ожидали session.ErrNotFound, получили %v", err)
	}
	if err := s.StoreSession(ctx, []byte(`{"Version":1}`)); err != nil {
		t.Fatalf("store: %v", err)
	}
	data, err := s.LoadSession(ctx)
	if err != nil || string(data) != `{"Version":1}` {
		t.Fatalf("load: %s %v", data, err)
	}
}
