package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueueConfig_Validate(t *testing.T) {
	valid := QueueConfig{
		QueueName:              "jobs",
		MaxPriorityLevels:      10,
		AckTimeoutSeconds:      30,
		MaxAttempts:            3,
		BatchSize:              50,
		MaxAcknowledgedHistory: 1000,
		EventsChannel:          "queue:events",
		ConsumerGroupName:      "queue-workers",
	}
	assert.NoError(t, valid.Validate())

	missingName := valid
	missingName.QueueName = ""
	assert.Error(t, missingName.Validate())

	zeroBands := valid
	zeroBands.MaxPriorityLevels = 0
	assert.Error(t, zeroBands.Validate())

	zeroAttempts := valid
	zeroAttempts.MaxAttempts = 0
	assert.Error(t, zeroAttempts.Validate())
}

func TestSecurityConfig_Validate(t *testing.T) {
	disabled := SecurityConfig{EnableMessageEncryption: false}
	assert.NoError(t, disabled.Validate())

	enabledNoSecret := SecurityConfig{EnableMessageEncryption: true}
	assert.Error(t, enabledNoSecret.Validate())

	enabledWithSecret := SecurityConfig{EnableMessageEncryption: true, SecretKey: "s3cr3t"}
	assert.NoError(t, enabledWithSecret.Validate())
}

func TestServerConfig_Validate(t *testing.T) {
	valid := ServerConfig{Host: "0.0.0.0", Port: 8080}
	assert.NoError(t, valid.Validate())

	badPort := valid
	badPort.Port = 0
	assert.Error(t, badPort.Validate())
}
