package config

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

// valid returns a config that passes Validate: defaults plus the credentials
// a running relay needs.
func valid() *Config {
	cfg := Defaults()
	cfg.Channels.Telegram.Enabled = true
	cfg.Channels.Telegram.Token = "123456789:TESTTOKEN"
	cfg.Backends.Completion.APIKey = "sk-test"
	return cfg
}

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(valid()); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_NoChannelEnabled(t *testing.T) {
	cfg := valid()
	cfg.Channels.Telegram.Enabled = false
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error when no channel is enabled")
	}
}

func TestValidate_TelegramNeedsToken(t *testing.T) {
	cfg := valid()
	cfg.Channels.Telegram.Token = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for enabled telegram without token")
	}
}

func TestValidate_WhatsAppNeedsCredentials(t *testing.T) {
	cfg := valid()
	cfg.Channels.WhatsApp.Enabled = true
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for enabled whatsapp without credentials")
	}

	cfg.Channels.WhatsApp.AccessToken = "token"
	cfg.Channels.WhatsApp.PhoneNumberID = "12345"
	cfg.Channels.WhatsApp.VerifyToken = "verify"
	if err := Validate(cfg); err != nil {
		t.Fatalf("complete whatsapp config should be valid: %v", err)
	}
}

func TestValidate_ConcurrencyBounds(t *testing.T) {
	cfg := valid()
	cfg.General.MaxConcurrentEvents = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxConcurrentEvents=0")
	}

	cfg.General.MaxConcurrentEvents = 999
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxConcurrentEvents=999")
	}

	cfg.General.MaxConcurrentEvents = 1
	if err := Validate(cfg); err != nil {
		t.Fatalf("maxConcurrentEvents=1 should be valid: %v", err)
	}
	cfg.General.MaxConcurrentEvents = 100
	if err := Validate(cfg); err != nil {
		t.Fatalf("maxConcurrentEvents=100 should be valid: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := valid()
	cfg.General.LogLevel = "loud"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for invalid log level")
	}
}

func TestValidate_MissingCompletionKey(t *testing.T) {
	cfg := valid()
	cfg.Backends.Completion.APIKey = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for missing completion API key")
	}
}

func TestValidate_NegativeMaxEntries(t *testing.T) {
	cfg := valid()
	cfg.Context.MaxEntries = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative context.maxEntries")
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	original := valid()
	original.Backends.Completion.Model = "test-model"

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.Backends.Completion.Model != "test-model" {
		t.Fatalf("expected 'test-model', got %q", loaded.Backends.Completion.Model)
	}
	if loaded.Channels.Telegram.Token != original.Channels.Telegram.Token {
		t.Fatal("telegram token lost in round trip")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	os.WriteFile(path, []byte(":\n\t- not yaml"), 0o644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoad_ValidatesConfig(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")
	// No channel enabled, no completion key.
	content := "general:\n  logLevel: info\n"
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(cfgFile)
	if err == nil {
		t.Fatal("expected validation error for incomplete config")
	}
}

func TestLoad_WithEnvVarSubstitution(t *testing.T) {
	t.Setenv("TEST_SLCBOT_TOKEN", "tok-from-env")
	t.Setenv("TEST_SLCBOT_KEY", "sk-from-env")

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")
	content := `
channels:
  telegram:
    enabled: true
    token: "${TEST_SLCBOT_TOKEN}"
backends:
  completion:
    apiKey: "${TEST_SLCBOT_KEY}"
`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Channels.Telegram.Token != "tok-from-env" {
		t.Fatalf("expected token from env, got %q", cfg.Channels.Telegram.Token)
	}
	if cfg.Backends.Completion.APIKey != "sk-from-env" {
		t.Fatalf("expected key from env, got %q", cfg.Backends.Completion.APIKey)
	}
}

// --- Accessor ---

func TestGetByPath_ValidPaths(t *testing.T) {
	cfg := Defaults()

	val, err := GetByPath(cfg, "channels.telegram.parseMode")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "Markdown" {
		t.Fatalf("expected 'Markdown', got %v", val)
	}
}

func TestGetByPath_InvalidPath(t *testing.T) {
	cfg := Defaults()
	_, err := GetByPath(cfg, "nonexistent.path")
	if err == nil {
		t.Fatal("expected error for nonexistent path")
	}
}

func TestSetByPath_ValidPath(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "backends.completion.model", "gpt-4o"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if cfg.Backends.Completion.Model != "gpt-4o" {
		t.Fatalf("expected 'gpt-4o', got %q", cfg.Backends.Completion.Model)
	}
}

func TestSetByPath_BoolConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "channels.whatsapp.enabled", "true"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if !cfg.Channels.WhatsApp.Enabled {
		t.Fatal("expected channels.whatsapp.enabled=true")
	}
}

func TestSetByPath_IntConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "context.maxEntries", "50"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if cfg.Context.MaxEntries != 50 {
		t.Fatalf("expected 50, got %d", cfg.Context.MaxEntries)
	}
}

// --- Sanitize ---

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Telegram.Token = "123456789:ABCdefGHIjklMNOpqrSTUvwxyz"
	cfg.Backends.Completion.APIKey = "sk-1234567890abcdefghijklmnop"

	sanitized := Sanitize(cfg)

	if sanitized.Channels.Telegram.Token == cfg.Channels.Telegram.Token {
		t.Fatal("telegram token should be masked")
	}
	if sanitized.Backends.Completion.APIKey == cfg.Backends.Completion.APIKey {
		t.Fatal("completion API key should be masked")
	}
	// Original untouched.
	if cfg.Channels.Telegram.Token != "123456789:ABCdefGHIjklMNOpqrSTUvwxyz" {
		t.Fatal("original config should not be modified")
	}
}

func TestSanitize_ShortSecret(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Telegram.Token = "short"
	sanitized := Sanitize(cfg)
	if sanitized.Channels.Telegram.Token != "***" {
		t.Fatalf("short secret should be '***', got %q", sanitized.Channels.Telegram.Token)
	}
}

func TestSanitize_MasksWhatsAppSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.WhatsApp.AppSecret = "whatsapp-secret-12345678"
	cfg.Channels.WhatsApp.AccessToken = "whatsapp-token-12345678"
	sanitized := Sanitize(cfg)

	if sanitized.Channels.WhatsApp.AppSecret == cfg.Channels.WhatsApp.AppSecret {
		t.Fatal("WhatsApp appSecret should be masked")
	}
	if sanitized.Channels.WhatsApp.AccessToken == cfg.Channels.WhatsApp.AccessToken {
		t.Fatal("WhatsApp accessToken should be masked")
	}
}

// --- ListPaths ---

func TestListPaths_ReturnsAllLeaves(t *testing.T) {
	cfg := Defaults()
	paths := ListPaths(cfg)
	if len(paths) == 0 {
		t.Fatal("expected non-empty paths")
	}

	for _, expected := range []string{"general.logLevel", "channels.telegram.enabled", "context.dbPath"} {
		if _, ok := paths[expected]; !ok {
			t.Errorf("missing expected path: %s", expected)
		}
	}
}

// --- FlexStringList ---

func TestFlexStringList_MixedTypes(t *testing.T) {
	input := "- hello\n- 123\n- world\n- 456\n"
	var list FlexStringList
	if err := yaml.Unmarshal([]byte(input), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list) != 4 {
		t.Fatalf("expected 4 items, got %d", len(list))
	}
	if list[0] != "hello" || list[2] != "world" {
		t.Fatal("string items mismatch")
	}
	if list[1] != "123" || list[3] != "456" {
		t.Fatalf("number conversion mismatch: %v", list)
	}
}

func TestFlexStringList_PureStrings(t *testing.T) {
	input := `["a", "b", "c"]`
	var list FlexStringList
	if err := yaml.Unmarshal([]byte(input), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list) != 3 || list[0] != "a" {
		t.Fatalf("unexpected: %v", list)
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars_SimpleSubstitution(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-abc123")
	result := ExpandEnvVars(`apiKey: "${TEST_API_KEY}"`)
	expected := `apiKey: "sk-abc123"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_DefaultValue(t *testing.T) {
	os.Unsetenv("NONEXISTENT_VAR_12345")
	result := ExpandEnvVars(`port: "${NONEXISTENT_VAR_12345:-8080}"`)
	expected := `port: "8080"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_SetVarOverridesDefault(t *testing.T) {
	t.Setenv("MY_PORT", "9090")
	result := ExpandEnvVars(`port: "${MY_PORT:-8080}"`)
	expected := `port: "9090"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_MultipleVars(t *testing.T) {
	t.Setenv("HOST", "localhost")
	t.Setenv("PORT", "3000")
	result := ExpandEnvVars(`"${HOST}:${PORT}"`)
	expected := `"localhost:3000"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_UnsetVarNoDefault_KeepsOriginal(t *testing.T) {
	os.Unsetenv("TOTALLY_UNSET_VAR_XYZ")
	result := ExpandEnvVars(`"${TOTALLY_UNSET_VAR_XYZ}"`)
	expected := `"${TOTALLY_UNSET_VAR_XYZ}"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_EmptyVarUsesDefault(t *testing.T) {
	t.Setenv("EMPTY_VAR", "")
	result := ExpandEnvVars(`"${EMPTY_VAR:-fallback}"`)
	expected := `"fallback"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_DollarSignWithoutBraces(t *testing.T) {
	input := `"$HOME is not substituted"`
	result := ExpandEnvVars(input)
	if result != input {
		t.Fatalf("expected no change for bare $VAR, got %q", result)
	}
}

// --- Defaults ---

func TestDefaults_SaneValues(t *testing.T) {
	cfg := Defaults()
	if cfg == nil {
		t.Fatal("defaults returned nil")
	}
	if cfg.General.ListenAddr == "" {
		t.Fatal("listenAddr should not be empty")
	}
	if cfg.Backends.Completion.Model == "" {
		t.Fatal("completion model should not be empty")
	}
	if cfg.Channels.WhatsApp.WebhookPath == "" {
		t.Fatal("whatsapp webhook path should not be empty")
	}
}
