package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const fullYAML = `
database:
  driver: mysql
  host: 10.0.0.5
  port: 3307
  name: breakdowns
  user: bot

chat:
  platform: discord
  forward_channel: "123456"
  allowed_users: ["alice", "bob"]
  discord:
    bot_token: secret

machines:
  names: ["Пресс 1", "Пресс 2", "Токарный"]

google:
  credentials_file: credentials.json
  spreadsheet_id: sheet-abc
  sheet_name: Поломки
  drive_folder_id: folder-1

dashboard:
  enabled: true
  port: 9090

digest:
  enabled: true
  cron: "30 7 * * *"
`

const minimalYAML = `
chat:
  platform: slack
  slack:
    app_token: xapp-1
    bot_token: xoxb-1
`

func TestParse_FullConfig(t *testing.T) {
	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Database.Driver != DriverMySQL {
		t.Errorf("Database.Driver = %q, want %q", cfg.Database.Driver, DriverMySQL)
	}
	if cfg.Database.Host != "10.0.0.5" {
		t.Errorf("Database.Host = %q, want %q", cfg.Database.Host, "10.0.0.5")
	}
	if cfg.Database.Port != 3307 {
		t.Errorf("Database.Port = %d, want %d", cfg.Database.Port, 3307)
	}
	if cfg.Database.User != "bot" {
		t.Errorf("Database.User = %q, want %q", cfg.Database.User, "bot")
	}
	if cfg.Chat.Platform != PlatformDiscord {
		t.Errorf("Chat.Platform = %q, want %q", cfg.Chat.Platform, PlatformDiscord)
	}
	if cfg.Chat.ForwardChannel != "123456" {
		t.Errorf("Chat.ForwardChannel = %q, want %q", cfg.Chat.ForwardChannel, "123456")
	}
	if len(cfg.Chat.AllowedUsers) != 2 {
		t.Errorf("len(AllowedUsers) = %d, want 2", len(cfg.Chat.AllowedUsers))
	}
	if got := cfg.Machines.List(); len(got) != 3 || got[2] != "Токарный" {
		t.Errorf("Machines.List() = %v, want 3 names ending with %q", got, "Токарный")
	}
	if !cfg.Google.Enabled() {
		t.Error("Google.Enabled() = false, want true")
	}
	if cfg.Google.SheetName != "Поломки" {
		t.Errorf("Google.SheetName = %q, want %q", cfg.Google.SheetName, "Поломки")
	}
	if cfg.Dashboard.Port != 9090 {
		t.Errorf("Dashboard.Port = %d, want 9090", cfg.Dashboard.Port)
	}
	if cfg.Digest.Cron != "30 7 * * *" {
		t.Errorf("Digest.Cron = %q, want %q", cfg.Digest.Cron, "30 7 * * *")
	}
}

func TestParse_MinimalAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Database.Driver != DriverSQLite {
		t.Errorf("Database.Driver = %q, want %q", cfg.Database.Driver, DriverSQLite)
	}
	if cfg.Database.Path != "breakdowns.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "breakdowns.db")
	}
	if cfg.Google.Enabled() {
		t.Error("Google.Enabled() = true, want false")
	}
	if cfg.Google.SheetName != "Sheet1" {
		t.Errorf("Google.SheetName = %q, want %q", cfg.Google.SheetName, "Sheet1")
	}
	if cfg.Dashboard.Port != 8080 {
		t.Errorf("Dashboard.Port = %d, want 8080", cfg.Dashboard.Port)
	}
	if cfg.Dashboard.Enabled {
		t.Error("Dashboard.Enabled should default to false")
	}
	if cfg.Digest.Cron == "" {
		t.Error("Digest.Cron should have a default")
	}

	machines := cfg.Machines.List()
	if len(machines) != 15 {
		t.Fatalf("len(Machines.List()) = %d, want 15", len(machines))
	}
	if machines[0] != "Станок 1" {
		t.Errorf("machines[0] = %q, want %q", machines[0], "Станок 1")
	}
	if machines[14] != "Станок 15" {
		t.Errorf("machines[14] = %q, want %q", machines[14], "Станок 15")
	}
}

func TestParse_MySQLDefaults(t *testing.T) {
	yaml := minimalYAML + `
database:
  driver: mysql
  name: plant
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Host != "127.0.0.1" {
		t.Errorf("Database.Host = %q, want 127.0.0.1", cfg.Database.Host)
	}
	if cfg.Database.Port != 3306 {
		t.Errorf("Database.Port = %d, want 3306", cfg.Database.Port)
	}
	if cfg.Database.User != "root" {
		t.Errorf("Database.User = %q, want root", cfg.Database.User)
	}
	if cfg.Database.Path != "" {
		t.Errorf("Database.Path = %q, want empty for mysql", cfg.Database.Path)
	}
}

func TestParse_ExpandsEnv(t *testing.T) {
	t.Setenv("BREAKDOWN_TEST_TOKEN", "from-env")

	cfg, err := Parse([]byte(`
chat:
  platform: discord
  discord:
    bot_token: ${BREAKDOWN_TEST_TOKEN}
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Chat.Discord.BotToken != "from-env" {
		t.Errorf("BotToken = %q, want %q", cfg.Chat.Discord.BotToken, "from-env")
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing platform",
			yaml: `database: {driver: sqlite}`,
			want: "chat.platform is required",
		},
		{
			name: "unsupported platform",
			yaml: `chat: {platform: telegram}`,
			want: `chat.platform "telegram" is not supported`,
		},
		{
			name: "discord without token",
			yaml: `chat: {platform: discord}`,
			want: "chat.discord.bot_token is required",
		},
		{
			name: "slack without app token",
			yaml: `chat: {platform: slack, slack: {bot_token: xoxb}}`,
			want: "chat.slack.app_token is required",
		},
		{
			name: "mysql without name",
			yaml: minimalYAML + "\ndatabase: {driver: mysql}\n",
			want: "database.name is required for mysql",
		},
		{
			name: "unknown driver",
			yaml: minimalYAML + "\ndatabase: {driver: postgres}\n",
			want: `database.driver "postgres" is not supported`,
		},
		{
			name: "duplicate machine",
			yaml: minimalYAML + "\nmachines: {names: [A, B, A]}\n",
			want: `machines.names[2] "A" is duplicated`,
		},
		{
			name: "google without spreadsheet",
			yaml: minimalYAML + "\ngoogle: {credentials_file: c.json}\n",
			want: "google.spreadsheet_id is required",
		},
		{
			name: "bad digest cron",
			yaml: minimalYAML + "\ndigest: {enabled: true, cron: \"every day\"}\n",
			want: "digest.cron",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tt.want)
			}
		})
	}
}

func TestParse_CollectsAllErrors(t *testing.T) {
	_, err := Parse([]byte(`
chat: {platform: slack}
database: {driver: mysql}
`))
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"app_token", "bot_token", "database.name"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error = %q, want to contain %q", err.Error(), want)
		}
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("chat: [unclosed"))
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !strings.Contains(err.Error(), "config: parse") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "config: parse")
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "breakdown.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Chat.Platform != PlatformSlack {
		t.Errorf("Chat.Platform = %q, want %q", cfg.Chat.Platform, PlatformSlack)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "config: read") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "config: read")
	}
}

func TestMachinesConfig_ListCopiesNames(t *testing.T) {
	m := MachinesConfig{Names: []string{"A", "B"}}
	got := m.List()
	got[0] = "changed"
	if m.Names[0] != "A" {
		t.Error("List() must not alias the configured names")
	}
}
