// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package introspect

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	_ "google.golang.org/protobuf/types/known/emptypb"
	_ "google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName = "iobroker.Introspection"
	protoFile   = "iobroker/introspect.proto"
)

func method(name string) *descriptorpb.MethodDescriptorProto {
	return &descriptorpb.MethodDescriptorProto{
		Name:       proto.String(name),
		InputType:  proto.String(".google.protobuf.Empty"),
		OutputType: proto.String(".google.protobuf.Struct"),
	}
}

// The service only uses well-known message types, so its file is described
// here and registered globally for server reflection.
var fileDesc = &descriptorpb.FileDescriptorProto{
	Name:    proto.String(protoFile),
	Package: proto.String("iobroker"),
	Dependency: []string{
		"google/protobuf/empty.proto",
		"google/protobuf/struct.proto",
	},
	Service: []*descriptorpb.ServiceDescriptorProto{{
		Name:   proto.String("Introspection"),
		Method: []*descriptorpb.MethodDescriptorProto{method("GetStatus"), method("ListZones")},
	}},
	Options: &descriptorpb.FileOptions{
		GoPackage: proto.String("github.com/u-root/iobroker/pkg/introspect"),
	},
	Syntax: proto.String("proto3"),
}

func init() {
	fd, err := protodesc.NewFile(fileDesc, protoregistry.GlobalFiles)
	if err != nil {
		panic(err)
	}
	if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
		panic(err)
	}
}
