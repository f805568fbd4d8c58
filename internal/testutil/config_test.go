package testutil

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTestDBConfig(t *testing.T) {
	t.Run("local defaults", func(t *testing.T) {
		for _, key := range []string{"TEST_DB_HOST", "TEST_DB_PORT", "TEST_DB_USER", "TEST_DB_PASSWORD", "TEST_DB_NAME"} {
			t.Setenv(key, "")
		}

		assert.Equal(t, TestDBConfig{
			Host:     "localhost",
			Port:     "55432",
			User:     "jobqueue",
			Password: "jobqueue",
			DBName:   "jobqueue",
		}, DefaultTestDBConfig())
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("TEST_DB_HOST", "postgres")
		t.Setenv("TEST_DB_PORT", "5432")
		t.Setenv("TEST_DB_USER", "ci")
		t.Setenv("TEST_DB_PASSWORD", "secret")
		t.Setenv("TEST_DB_NAME", "jobs")

		assert.Equal(t, TestDBConfig{
			Host:     "postgres",
			Port:     "5432",
			User:     "ci",
			Password: "secret",
			DBName:   "jobs",
		}, DefaultTestDBConfig())
	})
}

func TestBuildBaseDSN(t *testing.T) {
	t.Setenv("DB_SSL_MODE", "")
	cfg := TestDBConfig{Host: "::1", Port: "5432", User: "u", Password: "p", DBName: "jobs"}
	assert.Equal(t, "postgres://u:p@[::1]:5432/jobs?sslmode=disable", buildBaseDSN(cfg))

	t.Setenv("DB_SSL_MODE", "require")
	assert.True(t, strings.HasSuffix(buildBaseDSN(cfg), "sslmode=require"))
}

func TestGenerateSchemaName(t *testing.T) {
	a, b := generateSchemaName(), generateSchemaName()
	assert.Regexp(t, `^t_[0-9a-f]{8}$`, a)
	assert.NotEqual(t, a, b)
}

func TestEnvBool(t *testing.T) {
	for value, want := range map[string]bool{"1": true, "TRUE": true, "yes": true, "y": true, "0": false, "": false, "off": false} {
		t.Setenv("TEST_FLAG", value)
		assert.Equal(t, want, envBool("TEST_FLAG"), "value %q", value)
	}
}

func TestRunConcurrentKeepsOrder(t *testing.T) {
	boom := errors.New("boom")
	errs := RunConcurrent(
		func() error { return nil },
		func() error { return boom },
		func() error { return nil },
	)
	require.Len(t, errs, 3)
	assert.NoError(t, errs[0])
	assert.ErrorIs(t, errs[1], boom)
	assert.NoError(t, errs[2])
}

func TestSetupSQLiteDB(t *testing.T) {
	db := SetupSQLiteDB(t, "tu_")
	assert.Empty(t, InspectJobStates(t, db, "tu_job_record"))
	assert.Equal(t, 2024, TestTime().Year())
}
