package objectstore

import "testing"

func TestConfigValidate(t *testing.T) {
	valid := Config{
		Enabled:        true,
		Endpoint:       "localhost:9000",
		AccessKey:      "a",
		SecretKey:      "b",
		Region:         "us-east-1",
		BucketRendered: "rendered-templates",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	invalid := valid
	invalid.Endpoint = "http://localhost:9000"
	if err := invalid.Validate(); err == nil {
		t.Fatalf("Validate() expected error for scheme in endpoint")
	}

	invalid = valid
	invalid.BucketRendered = " "
	if err := invalid.Validate(); err == nil {
		t.Fatalf("Validate() expected error for missing bucket")
	}
}

func TestConfigFromEnv_DisabledSkipsValidation(t *testing.T) {
	t.Setenv("LAUNCHPAD_MINIO_ENABLED", "false")
	t.Setenv("LAUNCHPAD_MINIO_ENDPOINT", "http://bad")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.Enabled {
		t.Fatalf("expected disabled config")
	}
}

func TestConfigFromEnv_EnabledValidates(t *testing.T) {
	t.Setenv("LAUNCHPAD_MINIO_ENABLED", "true")
	t.Setenv("LAUNCHPAD_MINIO_ENDPOINT", "http://bad")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected scheme validation error")
	}
}

func TestNewMinioStoreRequiresClient(t *testing.T) {
	if _, err := NewMinioStore(nil, "bucket"); err == nil {
		t.Fatalf("expected error for nil client")
	}
}
