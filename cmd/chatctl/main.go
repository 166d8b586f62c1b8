package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexflint/go-arg"
)

type keygenCmd struct {
	Rotate bool `arg:"--rotate" help:"replace an existing local key"`
}

type tokenCmd struct {
	SigningKey string `arg:"--signing-key,env:CHAT_SIGNING_KEY" help:"base64 Ed25519 private key; a new one is generated when empty"`
	Issuer     string `arg:"--issuer,env:CHAT_ISSUER" default:"http://localhost:8081"`
	Name       string `arg:"--name" help:"display name claim"`
	TTL        string `arg:"--ttl" default:"24h"`
}

type createCmd struct {
	Type         string   `arg:"--type" default:"direct" help:"direct or group"`
	Name         string   `arg:"--name"`
	Participants []string `arg:"positional,required" help:"user ids to add besides yourself"`
}

type sendCmd struct {
	Conversation string `arg:"positional,required"`
	Message      string `arg:"positional,required"`
	ServerSide   bool   `arg:"--server-side" help:"let the server encrypt instead of encrypting locally"`
}

type readCmd struct {
	Conversation string `arg:"positional,required"`
	Limit        int    `arg:"--limit" default:"20"`
	Before       string `arg:"--before" help:"message id to page back from"`
}

type markReadCmd struct {
	Message string `arg:"positional,required"`
}

type listenCmd struct {
	Conversations []string `arg:"positional,required"`
}

type args struct {
	Server     string `arg:"--server,env:CHAT_SERVER" default:"http://localhost:8090"`
	User       string `arg:"--user,env:CHAT_USER" help:"your user id"`
	Token      string `arg:"--token,env:CHAT_TOKEN" help:"bearer token"`
	KeyDir     string `arg:"--key-dir,env:CHAT_KEY_DIR" default:".chat-keys"`
	Passphrase string `arg:"--passphrase,env:CHAT_KEY_PASSPHRASE" help:"encrypts the local key store"`

	Keygen   *keygenCmd   `arg:"subcommand:keygen" help:"generate a keypair, store the private key locally and publish the public key"`
	Mint     *tokenCmd    `arg:"subcommand:token" help:"mint a development session token"`
	Create   *createCmd   `arg:"subcommand:create" help:"create a conversation"`
	Send     *sendCmd     `arg:"subcommand:send" help:"send an encrypted message"`
	Read     *readCmd     `arg:"subcommand:read" help:"fetch and decrypt messages"`
	MarkRead *markReadCmd `arg:"subcommand:mark-read" help:"mark a message as read"`
	Listen   *listenCmd   `arg:"subcommand:listen" help:"print live events for conversations"`
}

func (args) Description() string {
	return "chatctl talks to chatd. Private keys never leave the local key store."
}

func main() {
	var a args
	p := arg.MustParse(&a)
	if p.Subcommand() == nil {
		p.Fail("missing subcommand")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch {
	case a.Keygen != nil:
		err = runKeygen(ctx, a)
	case a.Mint != nil:
		err = runToken(a)
	case a.Create != nil:
		err = runCreate(ctx, a)
	case a.Send != nil:
		err = runSend(ctx, a)
	case a.Read != nil:
		err = runRead(ctx, a)
	case a.MarkRead != nil:
		err = runMarkRead(ctx, a)
	case a.Listen != nil:
		err = runListen(ctx, a)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
