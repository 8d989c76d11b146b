package objectstore

import "testing"

func TestConfigFromEnvDefaults(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.BucketModels != "models" {
		t.Fatalf("BucketModels=%q, want models", cfg.BucketModels)
	}
}

func TestConfigValidate(t *testing.T) {
	valid := Config{
		Endpoint:     "localhost:9000",
		AccessKey:    "key",
		SecretKey:    "secret",
		Region:       "us-east-1",
		BucketModels: "models",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing endpoint", func(c *Config) { c.Endpoint = "" }},
		{"endpoint with scheme", func(c *Config) { c.Endpoint = "http://localhost:9000" }},
		{"missing access key", func(c *Config) { c.AccessKey = "" }},
		{"missing secret key", func(c *Config) { c.SecretKey = "" }},
		{"missing region", func(c *Config) { c.Region = "" }},
		{"missing bucket", func(c *Config) { c.BucketModels = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("Validate() expected error")
			}
		})
	}
}
