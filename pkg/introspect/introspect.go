// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package introspect serves a read-only gRPC view of the broker: the zone
// table and the open sessions.
package introspect

import (
	"context"
	"fmt"
	"net"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/u-root/iobroker/config"
	"github.com/u-root/iobroker/pkg/logger"
	"github.com/u-root/iobroker/pkg/session"
	"github.com/u-root/iobroker/pkg/zone"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

var (
	log = logger.LogContainer.GetSimpleLogger()
)

// IntrospectionServer is the server API of iobroker.Introspection.
type IntrospectionServer interface {
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListZones(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

func unary(name string, call func(IntrospectionServer, context.Context, *emptypb.Empty) (*structpb.Struct, error)) grpc.MethodDesc {
	full := fmt.Sprintf("/%s/%s", ServiceName, name)
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(emptypb.Empty)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(IntrospectionServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(IntrospectionServer), ctx, req.(*emptypb.Empty))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IntrospectionServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetStatus", IntrospectionServer.GetStatus),
		unary("ListZones", IntrospectionServer.ListZones),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: protoFile,
}

func RegisterIntrospectionServer(g *grpc.Server, s IntrospectionServer) {
	g.RegisterService(&serviceDesc, s)
}

type Service struct {
	zones *zone.Manager
	hooks *session.Hooks
	v     *config.Version
	start time.Time
}

func New(zones *zone.Manager, hooks *session.Hooks, v *config.Version) *Service {
	return &Service{zones: zones, hooks: hooks, v: v, start: time.Now()}
}

func hex(v uint64) string {
	return fmt.Sprintf("%#x", v)
}

func (s *Service) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	var sessions []interface{}
	for _, ss := range s.hooks.Sessions() {
		sessions = append(sessions, map[string]interface{}{
			"id":     float64(ss.ID),
			"uid":    float64(ss.Peer.UID),
			"pid":    float64(ss.Peer.PID),
			"space":  ss.Space.String(),
			"opened": ss.Opened.UTC().Format(time.RFC3339),
		})
	}
	return structpb.NewStruct(map[string]interface{}{
		"version":       s.v.Version,
		"git_hash":      s.v.GitHash,
		"capacity":      float64(s.zones.Capacity()),
		"active_zones":  float64(s.zones.Active()),
		"open_sessions": float64(len(sessions)),
		"sessions":      sessions,
		"uptime":        time.Since(s.start).Round(time.Second).String(),
	})
}

func (s *Service) ListZones(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	var zones []interface{}
	for _, z := range s.zones.Zones() {
		zones = append(zones, map[string]interface{}{
			"slot":        float64(z.Slot),
			"phys":        hex(z.Phys),
			"size":        float64(z.Size),
			"caller_base": hex(z.CallerBase),
			"session":     z.Owner,
			"mapped_at":   z.MappedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return structpb.NewStruct(map[string]interface{}{"zones": zones})
}

// NewServer returns a gRPC server exporting s with metrics and reflection.
func NewServer(s IntrospectionServer) *grpc.Server {
	g := grpc.NewServer(
		grpc.StreamInterceptor(grpc_prometheus.StreamServerInterceptor),
		grpc.UnaryInterceptor(grpc_prometheus.UnaryServerInterceptor),
	)
	RegisterIntrospectionServer(g, s)
	grpc_prometheus.Register(g)
	reflection.Register(g)
	return g
}

// Serve blocks serving g on l. A stopped server is not an error.
func Serve(g *grpc.Server, l net.Listener) error {
	log.Infow("introspection listening", "addr", l.Addr().String())
	if err := g.Serve(l); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

// Client calls iobroker.Introspection.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) call(ctx context.Context, name string) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fmt.Sprintf("/%s/%s", ServiceName, name), &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetStatus(ctx context.Context) (*structpb.Struct, error) {
	return c.call(ctx, "GetStatus")
}

func (c *Client) ListZones(ctx context.Context) (*structpb.Struct, error) {
	return c.call(ctx, "ListZones")
}
