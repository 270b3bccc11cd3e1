package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/friendsbet/bet-engine/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name  string
		cfg   config.LogConfig
		level zapcore.Level
	}{
		{"json info", config.LogConfig{Level: "info", Encoding: "json"}, zapcore.InfoLevel},
		{"console debug", config.LogConfig{Level: "DEBUG", Encoding: "console", Development: true}, zapcore.DebugLevel},
		{"unknown level falls back to info", config.LogConfig{Level: "loud"}, zapcore.InfoLevel},
		{"sampled warn", config.LogConfig{Level: "warn", Sampling: true}, zapcore.WarnLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := New(tt.cfg, config.AppConfig{Name: "bet-engine", Env: "test"})
			if err != nil {
				t.Fatalf("new: %v", err)
			}
			if !log.Core().Enabled(tt.level) {
				t.Errorf("level %s not enabled", tt.level)
			}
			if tt.level > zapcore.DebugLevel && log.Core().Enabled(tt.level-1) {
				t.Errorf("level below %s enabled", tt.level)
			}
		})
	}
}
