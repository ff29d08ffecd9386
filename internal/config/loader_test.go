package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/voxfix/internal/config"
)

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "invalid log level",
			yaml: "server:\n  log_level: verbose\n",
			want: "log_level",
		},
		{
			name: "threshold above one",
			yaml: "hotwords:\n  default_threshold: 1.5\n",
			want: "default_threshold",
		},
		{
			name: "negative threshold",
			yaml: "hotwords:\n  default_threshold: -0.1\n",
			want: "default_threshold",
		},
		{
			name: "threshold below minimum",
			yaml: "hotwords:\n  default_threshold: 0.05\n",
			want: "[0.1, 1]",
		},
		{
			name: "negative watch interval",
			yaml: "hotwords:\n  watch_interval: -1s\n",
			want: "watch_interval",
		},
		{
			name: "negative backup keep",
			yaml: "hotwords:\n  backup_keep: -2\n",
			want: "backup_keep",
		},
		{
			name: "tls without key",
			yaml: "server:\n  tls:\n    cert_file: cert.pem\n",
			want: "key_file",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error should mention %s, got: %v", tc.want, err)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
hotwords:
  default_threshold: 2
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "log_level") || !strings.Contains(errStr, "default_threshold") {
		t.Errorf("error should list both problems, got: %v", err)
	}
}

func TestValidate_MissingRuleFile(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Hotwords.RuleFile = ""
	err := config.Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "rule_file") {
		t.Errorf("expected rule_file error, got %v", err)
	}
}
