package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ardnew/microscpi/host/usbtmc"
)

// querier is the common surface of the transport clients.
type querier interface {
	Write(msg string) error
	Query(msg string) (string, error)
}

// usbQuerier adapts a USBTMC client to [querier].
type usbQuerier struct {
	ctx    context.Context
	client *usbtmc.Client
}

func (u usbQuerier) Write(msg string) error {
	if !strings.HasSuffix(msg, "\n") {
		msg += "\n"
	}
	return u.client.Write(u.ctx, []byte(msg))
}

func (u usbQuerier) Query(msg string) (string, error) {
	resp, err := u.client.Query(u.ctx, msg)
	return strings.TrimRight(resp, "\r\n"), err
}

// isQuery reports whether msg expects a response.
func isQuery(msg string) bool {
	return strings.Contains(msg, "?")
}

// runScript sends each message in order and prints the responses to
// queries. It stops at the first transport error.
func runScript(q querier, w io.Writer, msgs []string) error {
	for _, msg := range msgs {
		msg = strings.TrimSpace(msg)
		if msg == "" {
			continue
		}
		fmt.Fprintf(w, "> %s\n", msg)
		if !isQuery(msg) {
			if err := q.Write(msg); err != nil {
				return err
			}
			continue
		}
		resp, err := q.Query(msg)
		if err != nil {
			return fmt.Errorf("%s: %w", msg, err)
		}
		for _, line := range strings.Split(resp, "\n") {
			fmt.Fprintf(w, "< %s\n", line)
		}
	}
	return nil
}
