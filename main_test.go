package main

import (
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"

	"github.com/ShaeOJ/ClusterAxe-sub000/node"
)

func TestLoadConfigDefaults(t *testing.T) {
	n := &node.Node{}
	loadConfig(n)
	spew.Dump(n)

	assert.Equal(t, "clusteraxe", n.ClusterID)
	assert.Equal(t, 8, n.MaxWorkers)
	assert.Equal(t, 3000, n.HeartbeatMS)
	assert.Equal(t, 10000, n.TimeoutMS)
	assert.Equal(t, "radio", n.Transport)
	assert.Equal(t, uint(115200), n.BaudRate)
	assert.Equal(t, "clusteraxe-node", n.WorkerName)
}

func TestLoadConfigOverrides(t *testing.T) {
	viper.Set("role", "worker")
	viper.Set("transport", "serial")
	viper.Set("worker-name", "axe-09")
	defer func() {
		viper.Set("role", "")
		viper.Set("transport", "radio")
		viper.Set("worker-name", "")
	}()

	n := &node.Node{}
	loadConfig(n)
	assert.Equal(t, "worker", n.Role)
	assert.Equal(t, "serial", n.Transport)
	assert.Equal(t, "axe-09", n.WorkerName)
}
