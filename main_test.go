package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/idgate/internal/config"
	"github.com/example/idgate/internal/notify"
	"github.com/example/idgate/internal/otp"
)

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "idgate version dev\n", out.String())
}

func TestServeFailsOnInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("otp:\n  store: sqlite\n"), 0o600))

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"serve", "--config", path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "invalid config"), err.Error())
}

func TestBuildOTPStore(t *testing.T) {
	_, isMemory := buildOTPStore(config.OTPConfig{Store: config.StoreMemory}, config.RedisConfig{}, nil).(*otp.MemoryStore)
	assert.True(t, isMemory)

	_, isRedis := buildOTPStore(config.OTPConfig{Store: config.StoreRedis}, config.RedisConfig{Namespace: "idgate"}, nil).(*otp.RedisStore)
	assert.True(t, isRedis)
}

func TestBuildNotifier(t *testing.T) {
	_, isLog := buildNotifier(config.MailConfig{}, zap.NewNop()).(*notify.LogNotifier)
	assert.True(t, isLog)

	mailer, isMail := buildNotifier(config.MailConfig{Host: "smtp.example.edu", Port: 587, Domain: "example.edu"}, zap.NewNop()).(*notify.MailNotifier)
	require.True(t, isMail)
	assert.Equal(t, "12345678@example.edu", mailer.Address("12345678"))
}
