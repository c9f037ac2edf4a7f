package Adhoc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"PresenceSensor/logger"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	TimeOutSeconds = 5
	RegisterPath   = "/api/register"
)

type RegisterRequest struct {
	Id        string `json:"id"`
	IP        string `json:"ip"`
	Port      int    `json:"port"`
	Variant   string `json:"variant"`
	Presence  bool   `json:"presence"`
	TimeStamp int64  `json:"timestamp"`
}

type RegisterResponse struct {
	Id      string `json:"id"`
	Success bool   `json:"success"`
}

type RegServerConfig struct {
	Port int
	Addr string
}

func (reg *RegServerConfig) SetAddress(addr string, port int) {
	reg.Addr = addr
	reg.Port = port
}

func (reg RegServerConfig) URL() string {
	return fmt.Sprintf("http://%s:%d%s", reg.Addr, reg.Port, RegisterPath)
}

// PresenceFunc reports the current presence output.
type PresenceFunc func() bool

// Heartbeat announces this sensor to a registration server at a fixed interval.
type Heartbeat struct {
	Server   RegServerConfig
	Id       string
	IP       string
	Port     int
	Variant  string
	Interval time.Duration
	Presence PresenceFunc

	client *resty.Client
}

func NewHeartbeat(server RegServerConfig, ip string, port int, variant string, presence PresenceFunc) *Heartbeat {
	return &Heartbeat{
		Server:   server,
		Id:       uuid.NewString(),
		IP:       ip,
		Port:     port,
		Variant:  variant,
		Interval: TimeOutSeconds * time.Second,
		Presence: presence,
		client:   resty.New().SetTimeout(TimeOutSeconds * time.Second),
	}
}

// Send posts one registration. A non-2xx reply is an error.
func (h *Heartbeat) Send(ctx context.Context) (*RegisterResponse, error) {
	reqBody := RegisterRequest{
		Id:        h.Id,
		IP:        h.IP,
		Port:      h.Port,
		Variant:   h.Variant,
		TimeStamp: time.Now().Unix(),
	}
	if h.Presence != nil {
		reqBody.Presence = h.Presence()
	}
	var respBody RegisterResponse
	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		SetResult(&respBody).
		Post(h.Server.URL())
	if err != nil {
		return nil, fmt.Errorf("request error: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("server returned error: %s, body: %s", resp.Status(), resp.String())
	}
	return &respBody, nil
}

// SendAliveMessage sends heartbeats until ctx is cancelled. Failures are logged, never fatal.
func (h *Heartbeat) SendAliveMessage(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()

	safeDoRequest := func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Log().Error(fmt.Sprintf("SendAliveMessage panic recovered: %v", r))
			}
		}()
		if _, err := h.Send(ctx); err != nil && ctx.Err() == nil {
			logger.Log().Warn("heartbeat failed", zap.String("url", h.Server.URL()), zap.Error(err))
		}
	}
	safeDoRequest()
	for {
		select {
		case <-ctx.Done():
			logger.Log().Info("SendAliveMessage context cancelled, exiting goroutine.")
			return
		case <-ticker.C:
			safeDoRequest()
		}
	}
}
