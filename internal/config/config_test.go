package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckMQTTTopic(t *testing.T) {
	topic, err := CheckMQTTTopic("wallbus")
	assert.NoError(t, err)
	assert.Equal(t, "wallbus", topic)

	topic, err = CheckMQTTTopic("WallBus_2")
	assert.NoError(t, err)
	assert.Equal(t, "wallbus_2", topic)

	_, err = CheckMQTTTopic("wall/bus")
	assert.Error(t, err)

	_, err = CheckMQTTTopic("")
	assert.Error(t, err)
}
