package config

import "testing"

func TestLoadAppliesDefaults(t *testing.T) {
	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.RTMPPort != DefaultRTMPPort {
		t.Errorf("got RTMPPort %d, want %d", c.RTMPPort, DefaultRTMPPort)
	}
	if c.IDMaxLength != DefaultIDMaxLength {
		t.Errorf("got IDMaxLength %d, want %d", c.IDMaxLength, DefaultIDMaxLength)
	}
	if c.RTMPChunkSize != DefaultChunkSize {
		t.Errorf("got RTMPChunkSize %d, want %d", c.RTMPChunkSize, DefaultChunkSize)
	}
	if c.MsgBufferSize != DefaultMsgBufferSize {
		t.Errorf("got MsgBufferSize %d, want %d", c.MsgBufferSize, DefaultMsgBufferSize)
	}
}

func TestLoadOverridesFromEnvironment(t *testing.T) {
	t.Setenv("RTMP_PORT", "1936")
	t.Setenv("ID_MAX_LENGTH", "64")
	t.Setenv("RTMP_PLAY_WHITELIST", "10.0.0.0/8, 192.168.1.1")
	t.Setenv("LOG_DEBUG", "YES")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.RTMPPort != 1936 {
		t.Errorf("got RTMPPort %d, want 1936", c.RTMPPort)
	}
	if c.IDMaxLength != 64 {
		t.Errorf("got IDMaxLength %d, want 64", c.IDMaxLength)
	}
	if len(c.PlayWhitelist) != 2 || c.PlayWhitelist[0] != "10.0.0.0/8" || c.PlayWhitelist[1] != "192.168.1.1" {
		t.Errorf("got PlayWhitelist %v, want two trimmed entries", c.PlayWhitelist)
	}
	if !c.LogDebug {
		t.Error("got LogDebug false, want true")
	}
}

func TestLoadRejectsMalformedInt(t *testing.T) {
	t.Setenv("RTMP_PORT", "not-a-number")
	if _, err := Load(); err == nil {
		t.Fatal("expected an error for a non-numeric RTMP_PORT")
	}
}

func TestLoadRejectsConflictingAuthorizerBackends(t *testing.T) {
	t.Setenv("CONTROL_USE", "YES")
	t.Setenv("CALLBACK_URL", "https://example.com/callback")
	if _, err := Load(); err == nil {
		t.Fatal("expected an error when both CONTROL_USE and CALLBACK_URL are set")
	}
}
