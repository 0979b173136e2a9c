package transport

import (
	"fmt"
	"os/exec"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"
)

// LaunchWorker spawns the out-of-process worker binary at path and
// dispenses its RemoteWorkerClient, following the same
// plugin.NewClient → client.Client() → rpcClient.Dispense() sequence as
// pkg/plugins/grpc/loader.go's GRPCLoader.Load. The caller owns the
// returned *plugin.Client and must call client.Kill() on teardown.
func LaunchWorker(path string) (RemoteWorkerClient, *plugin.Client, error) {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "orchestrator-remote-worker",
		Level: hclog.Info,
	})

	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig:  HandshakeConfig,
		Plugins:          PluginMap(nil),
		Cmd:              exec.Command(path),
		Logger:           logger,
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolGRPC},
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, nil, fmt.Errorf("transport: get rpc client: %w", err)
	}

	raw, err := rpcClient.Dispense(PluginName)
	if err != nil {
		client.Kill()
		return nil, nil, fmt.Errorf("transport: dispense worker plugin: %w", err)
	}

	workerClient, ok := raw.(RemoteWorkerClient)
	if !ok {
		client.Kill()
		return nil, nil, fmt.Errorf("transport: dispensed plugin does not implement RemoteWorkerClient")
	}

	return workerClient, client, nil
}
