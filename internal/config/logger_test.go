package config

import (
	"testing"

	"github.com/spf13/viper"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
	}{
		{name: "defaults", level: "info", format: "json"},
		{name: "debug console", level: "debug", format: "console"},
		{name: "warn json", level: "warn", format: "json"},
		{name: "invalid level", level: "banana", format: "json", wantErr: true},
		{name: "invalid format", level: "info", format: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			v.Set("logging.level", tt.level)
			v.Set("logging.format", tt.format)

			logger, err := NewLogger(v)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewLogger: %v", err)
			}
			if logger == nil {
				t.Fatal("expected non-nil logger")
			}
		})
	}
}
