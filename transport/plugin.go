package transport

import (
	"context"

	"github.com/hashicorp/go-plugin"
	"google.golang.org/grpc"
)

// PluginName is the key the worker process registers its RemoteWorker
// implementation under, and that the loader dispenses by.
const PluginName = "remote_worker"

// HandshakeConfig is the go-plugin magic-cookie handshake, the same shape
// as pkg/plugins/grpc/loader.go's handshakeConfig but scoped to this
// module so a mismatched plugin binary is rejected before any RPC.
var HandshakeConfig = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "ORCHESTRATOR_REMOTE_WORKER_PLUGIN",
	MagicCookieValue: "orchestrator_remote_worker_v1",
}

// RemoteWorkerPlugin is the plugin.Plugin implementation dispensed over
// go-plugin's gRPC transport, mirroring
// pkg/plugins/grpc/plugin_impl.go's LLMProviderPlugin shape but serving
// the RemoteWorker contract instead of an LLM provider.
type RemoteWorkerPlugin struct {
	plugin.Plugin
	Impl RemoteWorkerServer
}

func (p *RemoteWorkerPlugin) GRPCServer(_ *plugin.GRPCBroker, s *grpc.Server) error {
	RegisterRemoteWorkerServer(s, p.Impl)
	return nil
}

func (p *RemoteWorkerPlugin) GRPCClient(_ context.Context, _ *plugin.GRPCBroker, c *grpc.ClientConn) (any, error) {
	return NewRemoteWorkerClient(c), nil
}

// PluginMap builds the plugin.Plugin map go-plugin's ClientConfig
// expects, one entry keyed by PluginName. impl is only needed on the
// worker side of the handshake (the server implementation); the
// orchestrator side passes nil since it only ever dispenses a client.
func PluginMap(impl RemoteWorkerServer) map[string]plugin.Plugin {
	return map[string]plugin.Plugin{
		PluginName: &RemoteWorkerPlugin{Impl: impl},
	}
}
