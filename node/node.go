// Package node assembles one cluster node from configuration: logger,
// transport, role and the HTTP surface.
package node

import (
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/gorilla/rpc"
	rpcjson "github.com/gorilla/rpc/json"
	fasthex "github.com/tmthrgd/go-hex"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ShaeOJ/ClusterAxe-sub000/cluster"
	"github.com/ShaeOJ/ClusterAxe-sub000/engine"
	"github.com/ShaeOJ/ClusterAxe-sub000/protocol"
	"github.com/ShaeOJ/ClusterAxe-sub000/transport"
	"github.com/ShaeOJ/ClusterAxe-sub000/types"
	"github.com/ShaeOJ/ClusterAxe-sub000/upstream"
)

var atom = zap.NewAtomicLevel()
var logger *zap.Logger

func selectZapLevel(loglevel string) zapcore.Level {
	var level zapcore.Level
	switch loglevel {
	case "debug":
		level = zap.DebugLevel
	case "info":
		level = zap.InfoLevel
	case "error":
		level = zap.ErrorLevel
	default:
		level = zap.InfoLevel
	}
	return level
}

func initLogger(loglevel string) *zap.Logger {
	level := selectZapLevel(loglevel)
	encoderCfg := zap.NewProductionEncoderConfig()
	logger = zap.New(zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.Lock(os.Stdout),
		atom,
	))
	defer logger.Sync()
	atom.SetLevel(level)
	return logger
}

// Node does everything: it owns the transport, the role and the API.
type Node struct {
	Role     string
	RoleFile string

	ClusterID   string
	MaxWorkers  int
	HeartbeatMS int
	TimeoutMS   int
	BeaconMS    int

	Transport     string
	DevPath       string
	BaudRate      uint
	Listen        string
	BroadcastAddr string
	Channel       int
	RadioKey      string

	APIListen  string
	LogLevel   string
	WorkerName string
	NetAddr    string
	Upstreams  []types.UpstreamConfig

	logger *zap.Logger
	tr     transport.Transport
	role   cluster.Role
	store  RoleStore
	source upstream.JobSource
	eng    engine.Engine
	tel    engine.TelemetrySource
}

// SetJobSource installs the upstream connection. Without one, a coordinator
// runs but has nothing to distribute.
func (n *Node) SetJobSource(s upstream.JobSource) { n.source = s }

// SetEngine installs the local hashing hardware.
func (n *Node) SetEngine(e engine.Engine) { n.eng = e }

func (n *Node) SetTelemetry(t engine.TelemetrySource) { n.tel = t }

func (n *Node) resolveRole() (types.Role, error) {
	if n.Role != "" {
		role, err := types.ParseRole(n.Role)
		if err != nil {
			return types.RoleDisabled, err
		}
		if err := n.store.Save(role); err != nil {
			n.logger.Warn("role not persisted", zap.Error(err))
		}
		return role, nil
	}
	return n.store.Load()
}

func (n *Node) buildTransport() (transport.Transport, error) {
	switch n.Transport {
	case "serial":
		return transport.NewSerial(transport.SerialConfig{
			Device:   n.DevPath,
			BaudRate: n.BaudRate,
		}, n.logger), nil
	case "radio", "":
		var key []byte
		if n.RadioKey != "" {
			var err error
			if key, err = fasthex.DecodeString(n.RadioKey); err != nil {
				return nil, err
			}
		}
		return transport.NewRadio(transport.RadioConfig{
			Listen:         n.Listen,
			BroadcastAddr:  n.BroadcastAddr,
			Channel:        n.Channel,
			ClusterID:      n.ClusterID,
			Key:            key,
			BeaconInterval: time.Duration(n.BeaconMS) * time.Millisecond,
		}, n.logger)
	}
	return nil, errors.New("unknown transport " + n.Transport)
}

func (n *Node) clusterConfig() cluster.Config {
	cfg := cluster.Config{
		ClusterID:         n.ClusterID,
		MaxWorkers:        n.MaxWorkers,
		HeartbeatInterval: time.Duration(n.HeartbeatMS) * time.Millisecond,
		DropAfter:         time.Duration(n.TimeoutMS) * time.Millisecond,
		WorkerName:        n.WorkerName,
		NetAddr:           n.NetAddr,
		Upstreams:         n.Upstreams,
	}
	if n.Transport == "serial" {
		// The wired line is reliable, repeats just burn bandwidth.
		cfg.SendRetries = 1
	}
	return cfg
}

// NodeMain brings the node up and serves the API. It blocks.
func (n *Node) NodeMain() {
	log.SetOutput(os.Stdout)
	n.logger = initLogger(n.LogLevel)

	if n.RoleFile == "" {
		n.RoleFile = "role.json"
	}
	n.store = NewFileRoleStore(n.RoleFile)
	role, err := n.resolveRole()
	if err != nil {
		n.logger.Fatal("role resolution failed", zap.Error(err))
	}

	tr, err := n.buildTransport()
	if err != nil {
		n.logger.Fatal("transport setup failed", zap.Error(err))
	}
	n.tr = tr

	if n.source == nil {
		n.source = upstream.NewNopSource(n.logger)
	}
	if n.eng == nil {
		n.eng = engine.NewNull(n.logger)
	}
	if n.tel == nil {
		n.tel = engine.Static{}
	}

	ctx := cluster.NewContext(n.clusterConfig(), tr, n.logger)
	switch role {
	case types.RoleCoordinator:
		n.role = cluster.NewCoordinator(ctx, n.source, n.eng)
	case types.RoleWorker:
		n.role = cluster.NewWorker(ctx, n.eng, n.tel)
	default:
		n.logger.Info("clustering disabled, serving API only")
	}

	tr.OnReceive(n.dispatch)
	if err := tr.Start(); err != nil {
		n.logger.Fatal("transport start failed", zap.Error(err))
	}
	if err := n.eng.Start(); err != nil {
		n.logger.Fatal("engine start failed", zap.Error(err))
	}
	if role == types.RoleCoordinator {
		if err := n.source.Start(); err != nil {
			n.logger.Fatal("upstream start failed", zap.Error(err))
		}
	}
	if n.role != nil {
		if err := n.role.Start(); err != nil {
			n.logger.Fatal("role start failed", zap.Error(err))
		}
	}

	s := rpc.NewServer()
	s.RegisterCodec(rpcjson.NewCodec(), "application/json")
	s.RegisterCodec(rpcjson.NewCodec(), "application/json;charset=UTF-8")
	s.RegisterService(n, "cluster")
	r := mux.NewRouter()
	r.Handle("/rpc", s)
	r.HandleFunc("/cluster/status", n.GetClusterStatus)
	r.HandleFunc("/cluster/role", n.SetRole)

	listen := n.APIListen
	if listen == "" {
		listen = ":4028"
	}
	http.ListenAndServe(listen, r)
}

// Reload applies what can change without a restart, which is the log level.
func (n *Node) Reload() {
	if n.logger == nil {
		return
	}
	atom.SetLevel(selectZapLevel(n.LogLevel))
	n.logger.Info("configuration reloaded", zap.String("loglevel", n.LogLevel))
}

func (n *Node) Stop() {
	if n.role != nil {
		n.role.Stop()
	}
	if n.eng != nil {
		n.eng.Stop()
	}
	if n.source != nil {
		n.source.Stop()
	}
	if n.tr != nil {
		n.tr.Stop()
	}
}

// dispatch parses every inbound frame once and routes it to the role.
func (n *Node) dispatch(frame []byte, from transport.From) {
	typ, fields, err := protocol.Parse(frame)
	if err != nil {
		n.logger.Debug("unparseable frame dropped",
			zap.String("from", from.Addr), zap.Error(err))
		return
	}
	if n.role == nil {
		return
	}
	n.role.HandleFrame(typ, fields, from)
}

func (n *Node) status() *types.ClusterStatus {
	if n.role != nil {
		return n.role.Status()
	}
	return &types.ClusterStatus{
		Role:      types.RoleDisabled.String(),
		ClusterID: n.ClusterID,
		Time:      time.Now().UnixMilli(),
	}
}

type ClusterRPCArgs struct {
	Who string
}

type ClusterRPCReply struct {
	StatusInfo string
}

func (n *Node) GetClusterStats(r *http.Request, args *ClusterRPCArgs, reply *ClusterRPCReply) error {
	res, err := json.Marshal(n.status())
	if err != nil {
		return err
	}
	reply.StatusInfo = string(res)
	return nil
}

func (n *Node) GetClusterStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(n.status())
}

// SetRole persists a new role. It takes effect on the next restart, the
// same as changing it in the config file.
func (n *Node) SetRole(w http.ResponseWriter, r *http.Request) {
	roles, ok := r.URL.Query()["role"]
	if !ok || len(roles[0]) < 1 {
		http.Error(w, "role parameter missing", http.StatusBadRequest)
		return
	}
	role, err := types.ParseRole(roles[0])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := n.store.Save(role); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	n.logger.Info("role persisted, restart to apply", zap.String("role", role.String()))
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"role": role.String(), "applies": "on restart"})
}
