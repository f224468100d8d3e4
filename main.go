package main

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/ShaeOJ/ClusterAxe-sub000/node"
	"github.com/ShaeOJ/ClusterAxe-sub000/types"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const version = "0.2.1"

// The main command describes the service and defaults to running the node.
var mainCmd = &cobra.Command{
	Use:   "clusteraxe",
	Short: "ClusterAxe mining cluster node",
	Long:  `ClusterAxe mining cluster node`,
	Run: func(cmd *cobra.Command, args []string) {
		run()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version.",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

var mainnode = &node.Node{}

func init() {
	mainCmd.AddCommand(versionCmd)

	viper.SetDefault("role", "")
	viper.SetDefault("rolefile", "role.json")
	viper.SetDefault("cluster-id", "clusteraxe")
	viper.SetDefault("max-workers", 8)
	viper.SetDefault("heartbeat-ms", 3000)
	viper.SetDefault("timeout-ms", 10000)
	viper.SetDefault("beacon-ms", 1000)
	viper.SetDefault("transport", "radio")
	viper.SetDefault("device", "/dev/ttyAMA0")
	viper.SetDefault("baudrate", 115200)
	viper.SetDefault("listen", "0.0.0.0:48861")
	viper.SetDefault("broadcast", "")
	viper.SetDefault("channel", 1)
	viper.SetDefault("radio-key", "")
	viper.SetDefault("api-listen", ":4028")
	viper.SetDefault("debug", "info")
	viper.SetDefault("worker-name", "")
	viper.SetDefault("net-addr", "")

	pflag.String("cfg", "clusteraxe.json", "config file path")
	pflag.Parse()
	viper.BindPFlags(pflag.CommandLine)
	fullcfgname := viper.GetString("cfg")

	log.Print("Config file: ", fullcfgname)
	cfgname := strings.TrimSuffix(fullcfgname, filepath.Ext(fullcfgname))
	if fullcfgname != "clusteraxe.json" {
		viper.SetConfigFile(fullcfgname)
	} else {
		viper.SetConfigName(cfgname)
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/clusteraxe")
	}

	err := viper.ReadInConfig()
	if err != nil {
		println("No config file found. Using built-in defaults.")
	}

	viper.WatchConfig()
	viper.OnConfigChange(func(e fsnotify.Event) {
		fmt.Println("Config file changed:", e.Name)
		loadConfig(mainnode)
		mainnode.Reload()
	})
}

func main() {
	mainCmd.Execute()
}

func loadConfig(n *node.Node) {
	var upstreams []types.UpstreamConfig
	viper.UnmarshalKey("upstreams", &upstreams)
	n.Upstreams = upstreams

	n.Role = viper.GetString("role")
	n.RoleFile = viper.GetString("rolefile")
	n.ClusterID = viper.GetString("cluster-id")
	n.MaxWorkers = viper.GetInt("max-workers")
	n.HeartbeatMS = viper.GetInt("heartbeat-ms")
	n.TimeoutMS = viper.GetInt("timeout-ms")
	n.BeaconMS = viper.GetInt("beacon-ms")
	n.Transport = viper.GetString("transport")
	n.DevPath = viper.GetString("device")
	n.BaudRate = viper.GetUint("baudrate")
	n.Listen = viper.GetString("listen")
	n.BroadcastAddr = viper.GetString("broadcast")
	n.Channel = viper.GetInt("channel")
	n.RadioKey = viper.GetString("radio-key")
	n.APIListen = viper.GetString("api-listen")
	n.LogLevel = viper.GetString("debug")
	n.WorkerName = viper.GetString("worker-name")
	n.NetAddr = viper.GetString("net-addr")
	if n.WorkerName == "" {
		n.WorkerName = "clusteraxe-node"
	}
}

func run() {
	loadConfig(mainnode)
	mainnode.NodeMain()
}
