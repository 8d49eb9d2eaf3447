// resolve is a command-line client for IdentityService.
//
//	go run ./cmd/resolve -user alice                      # Resolve; password from CSLA_PASSWORD
//	go run ./cmd/resolve -op whoami -user alice
//	go run ./cmd/resolve -op check-role -role Admin -user alice
//	go run ./cmd/resolve -op audit -user alice -filter bob -limit 20
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	identityv1 "github.com/klawrawkz/csla/api/identity/v1"
	"github.com/klawrawkz/csla/internal/server/interceptors"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "IdentityService address")
	op := flag.String("op", "resolve", "Operation: resolve, whoami, check-role or audit")
	user := flag.String("user", "", "Username")
	role := flag.String("role", "", "Role for check-role")
	filter := flag.String("filter", "", "Username filter for audit")
	limit := flag.Int("limit", 50, "Page size for audit")
	offset := flag.Int("offset", 0, "Offset for audit")
	timeout := flag.Duration("timeout", 10*time.Second, "Call timeout")
	flag.Parse()

	password := os.Getenv("CSLA_PASSWORD")

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		fail("dial: %v", err)
	}
	defer conn.Close()
	client := identityv1.NewIdentityServiceClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	authed := metadata.AppendToOutgoingContext(ctx, "authorization", interceptors.BasicAuthorization(*user, password))

	var resp proto.Message
	switch *op {
	case "resolve":
		resp, err = client.Resolve(ctx, identityv1.Credentials{Username: *user, Password: password}.Proto())
	case "whoami":
		resp, err = client.WhoAmI(authed, &emptypb.Empty{})
	case "check-role":
		resp, err = client.CheckRole(authed, wrapperspb.String(*role))
	case "audit":
		resp, err = client.ListAuditLogs(authed, identityv1.AuditQuery{
			Username: *filter,
			Limit:    int32(*limit),
			Offset:   int32(*offset),
		}.Proto())
	default:
		fmt.Fprintf(os.Stderr, "unknown op %q\n", *op)
		os.Exit(2)
	}
	if err != nil {
		fail("%s: %v", *op, err)
	}
	out, err := protojson.MarshalOptions{Multiline: true}.Marshal(resp)
	if err != nil {
		fail("encode: %v", err)
	}
	fmt.Println(string(out))
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
