package mtproto

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/gotd/td/crypto"
	"github.com/gotd/td/session"
	"github.com/gotd/td/tg"
)

// ErrUnsupportedSession возвращается, если формат сессии не распознан.
var ErrUnsupportedSession = errors.New("mtproto: неизвестный формат сессии")

// sessionDecoder переводит один из сторонних форматов в session.Data.
type sessionDecoder func(raw []byte) (session.Data, error)

var sessionDecoders = []sessionDecoder{
	decodeTelethonAccount,
	decodeTelethonRows,
	decodeTelethonString,
}

// NormalizeSession приводит сессию к JSON-формату gotd.
// Второе значение сообщает, понадобилась ли конвертация.
func NormalizeSession(raw []byte) ([]byte, bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, false, fmt.Errorf("%w: пустые данные", ErrUnsupportedSession)
	}

	var native struct {
		Version int `json:"Version"`
	}
	if err := json.Unmarshal(trimmed, &native); err == nil && native.Version != 0 {
		return append([]byte(nil), trimmed...), false, nil
	}

	for _, decode := range sessionDecoders {
		data, err := decode(trimmed)
		if err != nil {
			continue
		}
		out, err := encodeSession(data)
		if err != nil {
			return nil, false, err
		}
		return out, true, nil
	}
	return nil, false, ErrUnsupportedSession
}

// decodeTelethonAccount разбирает экспорт аккаунта со строкой сессии в extra_params.
func decodeTelethonAccount(raw []byte) (session.Data, error) {
	var account struct {
		ExtraParams string `json:"extra_params"`
	}
	if err := json.Unmarshal(raw, &account); err != nil {
		return session.Data{}, err
	}
	if account.ExtraParams == "" {
		return session.Data{}, errors.New("нет extra_params")
	}
	return decodeTelethonString([]byte(account.ExtraParams))
}

// decodeTelethonRows разбирает выгрузку таблицы sessions из SQLite Telethon.
func decodeTelethonRows(raw []byte) (session.Data, error) {
	var rows []struct {
		DCID          int    `json:"dc_id"`
		ServerAddress string `json:"server_address"`
		Port          int    `json:"port"`
		AuthKey       string `json:"auth_key"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return session.Data{}, err
	}
	for _, row := range rows {
		if row.AuthKey == "" || row.ServerAddress == "" || row.Port == 0 {
			continue
		}
		return dataFromAuthKey(row.DCID, row.ServerAddress, row.Port, row.AuthKey)
	}
	return session.Data{}, errors.New("нет пригодных строк")
}

// decodeTelethonString разбирает строковую сессию Telethon.
func decodeTelethonString(raw []byte) (session.Data, error) {
	s := strings.Trim(strings.TrimSpace(string(raw)), "\"'\n\r\t")
	if s == "" {
		return session.Data{}, errors.New("пустая строка сессии")
	}
	data, err := session.TelethonSession(s)
	if err != nil {
		return session.Data{}, err
	}
	if data.Config.ThisDC == 0 {
		data.Config.ThisDC = data.DC
	}
	if data.Addr != "" && len(data.Config.DCOptions) == 0 {
		if host, portStr, err := net.SplitHostPort(data.Addr); err == nil {
			if port, err := strconv.Atoi(portStr); err == nil {
				data.Config.DCOptions = []tg.DCOption{{ID: data.DC, IPAddress: host, Port: port}}
			}
		}
	}
	return *data, nil
}

func dataFromAuthKey(dcID int, host string, port int, authKeyHex string) (session.Data, error) {
	rawKey, err := hex.DecodeString(strings.Trim(strings.TrimSpace(authKeyHex), "'\""))
	if err != nil {
		return session.Data{}, fmt.Errorf("auth_key: %w", err)
	}
	var key crypto.Key
	if len(rawKey) != len(key) {
		return session.Data{}, fmt.Errorf("auth_key: длина %d байт", len(rawKey))
	}
	copy(key[:], rawKey)
	id := key.WithID().ID

	return session.Data{
		Config: session.Config{
			ThisDC:    dcID,
			DCOptions: []tg.DCOption{{ID: dcID, IPAddress: host, Port: port}},
		},
		DC:        dcID,
		Addr:      net.JoinHostPort(host, strconv.Itoa(port)),
		AuthKey:   append([]byte(nil), key[:]...),
		AuthKeyID: append([]byte(nil), id[:]...),
	}, nil
}

func encodeSession(data session.Data) ([]byte, error) {
	payload := struct {
		Version int          `json:"Version"`
		Data    session.Data `json:"Data"`
	}{Version: 1, Data: data}
	out, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("mtproto: encode session: %w", err)
	}
	return out, nil
}
