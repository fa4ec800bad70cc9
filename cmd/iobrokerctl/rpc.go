// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/fullstorydev/grpcurl"
	"github.com/golang/protobuf/proto"
	dpb "github.com/golang/protobuf/protoc-gen-go/descriptor"
	"github.com/google/subcommands"
	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/grpcreflect"
	"github.com/u-root/iobroker/pkg/introspect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	reflectpb "google.golang.org/grpc/reflection/grpc_reflection_v1alpha"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func dialIntrospect(ctx context.Context) (*grpc.ClientConn, error) {
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	c, err := grpcurl.BlockingDial(ctx, "unix", *introSock, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %v", *introSock, err)
	}
	return c, nil
}

func introspectCall(ctx context.Context, call func(*introspect.Client) (*structpb.Struct, error)) subcommands.ExitStatus {
	if *local {
		log.Error("introspection needs a running iobrokerd")
		return subcommands.ExitUsageError
	}
	cc, err := dialIntrospect(ctx)
	if err != nil {
		log.Error(err)
		return subcommands.ExitFailure
	}
	defer cc.Close()
	s, err := call(introspect.NewClient(cc))
	if err != nil {
		log.Error(err)
		return subcommands.ExitFailure
	}
	fmt.Print(proto.MarshalTextString(s))
	return subcommands.ExitSuccess
}

type statusCmd struct{}

func (*statusCmd) Name() string             { return "status" }
func (*statusCmd) Synopsis() string         { return "show broker status" }
func (*statusCmd) Usage() string            { return "status:\n  Show capacity, zones and sessions of iobrokerd.\n" }
func (*statusCmd) SetFlags(f *flag.FlagSet) {}

func (*statusCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return introspectCall(ctx, func(c *introspect.Client) (*structpb.Struct, error) {
		return c.GetStatus(ctx)
	})
}

type zonesCmd struct{}

func (*zonesCmd) Name() string             { return "zones" }
func (*zonesCmd) Synopsis() string         { return "list mapped zones" }
func (*zonesCmd) Usage() string            { return "zones:\n  List the zones iobrokerd has mapped.\n" }
func (*zonesCmd) SetFlags(f *flag.FlagSet) {}

func (*zonesCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return introspectCall(ctx, func(c *introspect.Client) (*structpb.Struct, error) {
		return c.ListZones(ctx)
	})
}

type handler struct {
	stat *status.Status
}

func (*handler) OnResolveMethod(md *desc.MethodDescriptor) {
}

func (*handler) OnSendHeaders(md metadata.MD) {
}

func (*handler) OnReceiveHeaders(md metadata.MD) {
}

func (*handler) OnReceiveResponse(resp proto.Message) {
	if t := proto.MarshalTextString(resp); t != "" {
		fmt.Print(t)
	}
}

func (h *handler) OnReceiveTrailers(stat *status.Status, md metadata.MD) {
	h.stat = stat
}

type rpcCmd struct{}

func (*rpcCmd) Name() string     { return "rpc" }
func (*rpcCmd) Synopsis() string { return "call an introspection method by name" }
func (*rpcCmd) Usage() string {
	return `rpc [METHOD [JSON]]:
  Without arguments, describe the methods of iobroker.Introspection found
  through server reflection. Otherwise call METHOD with the JSON request.
`
}
func (*rpcCmd) SetFlags(f *flag.FlagSet) {}

func (*rpcCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	c, err := dialIntrospect(ctx)
	if err != nil {
		log.Error(err)
		return subcommands.ExitFailure
	}
	defer c.Close()

	refClient := grpcreflect.NewClient(ctx, reflectpb.NewServerReflectionClient(c))
	defer refClient.Reset()
	ds := grpcurl.DescriptorSourceFromServer(ctx, refClient)

	if f.NArg() == 0 {
		err = usage(ds)
	} else {
		err = call(ctx, ds, c, f.Arg(0), strings.Join(f.Args()[1:], " "))
	}
	if err != nil {
		log.Error(err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func methodName(m string) string {
	if strings.HasPrefix(m, introspect.ServiceName+".") {
		return m
	}
	return fmt.Sprintf("%s.%s", introspect.ServiceName, m)
}

func call(ctx context.Context, ds grpcurl.DescriptorSource, c *grpc.ClientConn, method string, text string) error {
	method = methodName(method)
	sent := false
	rd := func() ([]byte, error) {
		if sent || text == "" {
			return nil, io.EOF
		}
		sent = true
		return []byte(text), nil
	}
	h := &handler{}
	if err := grpcurl.InvokeRpc(ctx, ds, c, method, []string{} /* headers */, h, rd); err != nil {
		return fmt.Errorf("grpcurl.InvokeRpc(%s) failed: %v", method, err)
	}
	if h.stat.Code() != codes.OK {
		return fmt.Errorf("RPC returned error code %s: %s", h.stat.Code().String(), h.stat.Message())
	}
	return nil
}

func usage(ds grpcurl.DescriptorSource) error {
	methods, err := grpcurl.ListMethods(ds, introspect.ServiceName)
	if err != nil {
		return fmt.Errorf("grpcurl.ListMethods(%s) failed: %v", introspect.ServiceName, err)
	}
	for _, m := range methods {
		s := methodName(m)
		dsc, err := ds.FindSymbol(s)
		if err != nil {
			return fmt.Errorf("FindSymbol(%s) failed: %v", s, err)
		}
		mp := dsc.(*desc.MethodDescriptor)
		fmt.Printf("Method: %v\n", mp.GetName())
		fmt.Printf(" Request:\n")
		printMessage(mp.GetInputType(), 1 /* depth */)
		fmt.Printf("\n Response:\n")
		printMessage(mp.GetOutputType(), 1 /* depth */)
		fmt.Printf("\n")
	}
	return nil
}

// printMessage names nested messages instead of expanding them;
// google.protobuf.Struct refers to itself through Value.
func printMessage(md *desc.MessageDescriptor, depth int) {
	pad := strings.Repeat("  ", depth)
	if len(md.GetFields()) == 0 {
		fmt.Printf("%s(empty)\n", pad)
		return
	}
	for _, f := range md.GetFields() {
		label := ""
		if f.IsRepeated() {
			label = "repeated "
		}
		switch f.GetType() {
		case dpb.FieldDescriptorProto_TYPE_MESSAGE:
			fmt.Printf("%s%s: %s%s\n", pad, f.GetName(), label, f.GetMessageType().GetFullyQualifiedName())
		case dpb.FieldDescriptorProto_TYPE_ENUM:
			fmt.Printf("%s%s: %s%s\n", pad, f.GetName(), label, f.GetEnumType().GetFullyQualifiedName())
		default:
			fmt.Printf("%s%s: %s%s\n", pad, f.GetName(), label, strings.ToLower(strings.TrimPrefix(f.GetType().String(), "TYPE_")))
		}
	}
}
