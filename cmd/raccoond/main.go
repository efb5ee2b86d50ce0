// Command raccoond hosts the agent runtime's gRPC service facade: it wires
// configuration, telemetry, the tool registry, the orchestrator, and the
// sandbox manager together and serves AgentRuntime until terminated.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/openraccoon/agent-runtime/internal/config"
	"github.com/openraccoon/agent-runtime/internal/facade"
	"github.com/openraccoon/agent-runtime/internal/orchestrator"
	"github.com/openraccoon/agent-runtime/internal/sandbox"
	"github.com/openraccoon/agent-runtime/internal/telemetry"
	"github.com/openraccoon/agent-runtime/internal/toolregistry"
	"goa.design/clue/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"
)

func main() {
	var dbgF = flag.Bool("debug", false, "Log request and response bodies")
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	settings, err := config.Load()
	if err != nil {
		log.Fatalf(ctx, err, "failed to load configuration")
	}

	tel := telemetry.Bundle{
		Logger:  telemetry.NewClueLogger(),
		Metrics: telemetry.NewClueMetrics(),
		Tracer:  telemetry.NewClueTracer(),
	}

	// Tool schemas are registered by whatever deployment wires this
	// binary up (local handlers, remote MCP-style servers discovered via
	// internal/remotetool); the registry starts empty.
	registry := toolregistry.New(tel)
	orch := orchestrator.New(settings, registry, tel)
	sandboxes := sandbox.New(settings.E2BBaseURL, settings.E2BAPIKey, sandbox.Ceilings{
		MaxCPU:      settings.SandboxMaxCPU,
		MaxMemoryMB: settings.SandboxMaxMemoryMB,
	}, tel)

	srv := facade.NewServer(settings, orch, registry, sandboxes)

	chain := grpc.ChainUnaryInterceptor(log.UnaryServerInterceptor(ctx))
	streamChain := grpc.ChainStreamInterceptor(log.StreamServerInterceptor(ctx))
	grpcServer := grpc.NewServer(chain, streamChain, grpc.MaxRecvMsgSize(settings.MaxMessageSize), grpc.MaxSendMsgSize(settings.MaxMessageSize))
	facade.RegisterAgentRuntimeServer(grpcServer, srv)
	reflection.Register(grpcServer)

	for svc, info := range grpcServer.GetServiceInfo() {
		for _, m := range info.Methods {
			log.Printf(ctx, "serving gRPC method %s", svc+"/"+m.Name)
		}
	}

	ctx, cancel := context.WithCancel(ctx)

	errc := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		addr := fmt.Sprintf(":%d", settings.GRPCPort)
		go func() {
			lis, err := net.Listen("tcp", addr)
			if err != nil {
				errc <- err
				return
			}
			log.Printf(ctx, "gRPC server listening on %q", addr)
			errc <- grpcServer.Serve(lis)
		}()

		<-ctx.Done()
	}()

	err = <-errc
	log.Printf(ctx, "shutting down gRPC server: %v", err)
	grpcServer.GracefulStop()
	if err := sandboxes.DestroyAll(context.Background()); err != nil {
		log.Print(ctx, log.KV{K: "error", V: err.Error()}, log.KV{K: "msg", V: "failed to destroy sandboxes during shutdown"})
	}
	cancel()
	wg.Wait()
}
