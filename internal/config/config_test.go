package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/assetforge/internal/errors"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		setup       func()
		expectError bool
		check       func(t *testing.T, cfg *Config)
	}{
		{
			name: "successful load with defaults",
			setup: func() {
				viper.Reset()
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "src", cfg.Source.Root)
				assert.Equal(t, "dist", cfg.Output.Root)
				assert.Equal(t, []EntryConfig{{Name: "index", Path: "index.js"}}, cfg.Source.Entries)
				assert.Equal(t, 7777, cfg.Server.Port)
				assert.True(t, cfg.Server.HistoryFallback)
				assert.True(t, cfg.Server.Hot)
				assert.Equal(t, 30*time.Second, cfg.Build.TransformTimeout)
				assert.Len(t, cfg.Rules, len(DefaultRules()))
			},
		},
		{
			name: "custom entries and server",
			setup: func() {
				viper.Reset()
				viper.Set("server.port", 3000)
				viper.Set("server.host", "0.0.0.0")
				viper.Set("source.entries", []map[string]interface{}{
					{"path": "app/main.js"},
					{"name": "admin", "path": "admin.js"},
				})
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 3000, cfg.Server.Port)
				assert.Equal(t, "0.0.0.0", cfg.Server.Host)
				require.Len(t, cfg.Source.Entries, 2)
				assert.Equal(t, "main", cfg.Source.Entries[0].Name)
				assert.Equal(t, "admin", cfg.Source.Entries[1].Name)
			},
		},
		{
			name: "no-open flag override",
			setup: func() {
				viper.Reset()
				viper.Set("server.open", true)
				viper.Set("server.no-open", true)
			},
			check: func(t *testing.T, cfg *Config) {
				assert.False(t, cfg.Server.Open)
			},
		},
		{
			name: "explicit rules replace defaults",
			setup: func() {
				viper.Reset()
				viper.Set("rules", []map[string]interface{}{
					{"name": "js", "test": `\.js$`, "use": []map[string]interface{}{{"name": "script"}}},
				})
			},
			check: func(t *testing.T, cfg *Config) {
				require.Len(t, cfg.Rules, 1)
				assert.Equal(t, "script", cfg.Rules[0].Use[0].Name)
			},
		},
		{
			name: "invalid port type",
			setup: func() {
				viper.Reset()
				viper.Set("server.port", "invalid_port")
			},
			expectError: true,
		},
		{
			name: "invalid mode",
			setup: func() {
				viper.Reset()
				viper.Set("mode", "staging")
			},
			expectError: true,
		},
		{
			name: "same source and output root",
			setup: func() {
				viper.Reset()
				viper.Set("source.root", "site")
				viper.Set("output.root", "./site")
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			defer viper.Reset()

			cfg, err := Load()

			if tt.expectError {
				assert.Error(t, err)
				assert.True(t, errors.IsConfigError(err))
				assert.Nil(t, cfg)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestValidateConfigRules(t *testing.T) {
	tests := []struct {
		name string
		rule RuleConfig
	}{
		{"missing test", RuleConfig{Name: "empty"}},
		{"unknown type", RuleConfig{Name: "x", Test: `\.x$`, Type: "inline"}},
		{"unnamed transform", RuleConfig{Name: "x", Test: `\.x$`, Use: []TransformRefConfig{{}}}},
		{"bad transform mode", RuleConfig{Name: "x", Test: `\.x$`, Use: []TransformRefConfig{{Name: "css", Mode: "qa"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Rules = []RuleConfig{tt.rule}
			err := validateConfig(cfg)
			require.Error(t, err)
			assert.True(t, errors.IsConfigError(err))
		})
	}
}

func TestValidateServerConfig(t *testing.T) {
	assert.NoError(t, validateServerConfig(&ServerConfig{Port: 0, Host: "localhost"}))
	assert.Error(t, validateServerConfig(&ServerConfig{Port: 70000}))
	assert.Error(t, validateServerConfig(&ServerConfig{Port: 80, Host: "evil;rm"}))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeDevelopment, m)

	m, err = ParseMode("Production")
	require.NoError(t, err)
	assert.Equal(t, ModeProduction, m)

	_, err = ParseMode("test")
	assert.Error(t, err)
}

func TestNewBuildContext(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(src, 0755))
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("NODE_ENV=production\nAPI_URL=https://file.example\n"), 0644))

	cfg := Default()
	cfg.Source.Root = src
	cfg.Output.Root = filepath.Join(dir, "dist")
	cfg.EnvFile = envFile

	t.Run("env file selects mode", func(t *testing.T) {
		bc, err := NewBuildContext(cfg, nil)
		require.NoError(t, err)
		assert.Equal(t, ModeProduction, bc.Mode())
		v, ok := bc.LookupEnv("API_URL")
		assert.True(t, ok)
		assert.Equal(t, "https://file.example", v)
		assert.Equal(t, src, bc.SourceRoot())
	})

	t.Run("process env wins over env file", func(t *testing.T) {
		bc, err := NewBuildContext(cfg, []string{"NODE_ENV=development", "API_URL=https://proc.example"})
		require.NoError(t, err)
		assert.Equal(t, ModeDevelopment, bc.Mode())
		v, _ := bc.LookupEnv("API_URL")
		assert.Equal(t, "https://proc.example", v)
		assert.Contains(t, bc.EnvJSON(), `"API_URL":"https://proc.example"`)
		assert.Contains(t, bc.EnvKeys(), "NODE_ENV")
	})

	t.Run("config mode wins over environment", func(t *testing.T) {
		c := *cfg
		c.Mode = "development"
		bc, err := NewBuildContext(&c, []string{"NODE_ENV=production"})
		require.NoError(t, err)
		assert.False(t, bc.Production())
	})

	t.Run("missing source root", func(t *testing.T) {
		c := *cfg
		c.Source.Root = filepath.Join(dir, "nope")
		_, err := NewBuildContext(&c, nil)
		require.Error(t, err)
		assert.True(t, errors.IsConfigError(err))
	})

	t.Run("workers default to gomaxprocs", func(t *testing.T) {
		bc, err := NewBuildContext(cfg, nil)
		require.NoError(t, err)
		assert.Greater(t, bc.Workers(), 0)
	})
}

func TestNewBuildContextRejectsOverlappingOutput(t *testing.T) {
	dir := t.TempDir()
	project := filepath.Join(dir, "project")
	src := filepath.Join(project, "src")
	static := filepath.Join(project, "public")
	confDir := filepath.Join(dir, "conf")
	work := filepath.Join(dir, "work")
	for _, d := range []string{src, static, confDir, work} {
		require.NoError(t, os.MkdirAll(d, 0755))
	}

	tests := []struct {
		name    string
		output  string
		chdir   string
		wantErr string
	}{
		{"output is the source root", src, "", "source root"},
		{"output above the source root", project, "", "source root"},
		{"output two levels above the source root", dir, "", "source root"},
		{"output is the static directory", static, "", "static directory"},
		{"output holds the config file", confDir, "", "config file"},
		{"output is the working directory", ".", work, "working directory"},
		{"output of its own", filepath.Join(project, "dist"), "", ""},
		{"output next to the static directory", filepath.Join(project, "public-build"), "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.chdir != "" {
				t.Chdir(tt.chdir)
			}
			cfg := Default()
			cfg.EnvFile = ""
			cfg.Source.Root = src
			cfg.Source.Static = static
			cfg.File = filepath.Join(confDir, ".assetforge.yml")
			cfg.Output.Root = tt.output

			_, err := NewBuildContext(cfg, nil)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			pe, ok := errors.AsPipelineError(err)
			require.True(t, ok)
			assert.Equal(t, errors.ErrCodeOutputOverlap, pe.Code)
			assert.Contains(t, pe.Message, tt.wantErr)
		})
	}
}

func TestLoadRecordsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".assetforge.yml")
	require.NoError(t, os.WriteFile(path, []byte("output:\n  root: build\n"), 0644))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.File)
	assert.Equal(t, "build", cfg.Output.Root)
}
