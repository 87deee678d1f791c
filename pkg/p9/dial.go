// Copyright 2025 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package p9

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/sys/unix"
	"kestrel.dev/kestrel/pkg/log"
)

// errNotFound is wrapped by walk failures that name a missing component.
var errNotFound = unix.ENOENT

// IsNotFound returns true if err reports a missing file.
func IsNotFound(err error) bool {
	return errors.Is(err, unix.ENOENT)
}

// DialOptions configures Dial.
type DialOptions struct {
	// MessageSize is the requested message size. Zero means
	// DefaultMessageSize.
	MessageSize uint32

	// Timeout bounds the total time spent retrying. Zero means 10 seconds.
	Timeout time.Duration
}

// Dial connects to a 9P server at addr and negotiates the protocol. The
// connection is retried with exponential backoff until the server accepts
// it or opts.Timeout passes.
func Dial(ctx context.Context, network, addr string, opts DialOptions) (*Client, error) {
	if opts.MessageSize == 0 {
		opts.MessageSize = DefaultMessageSize
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = opts.Timeout

	var client *Client
	var d net.Dialer
	op := func() error {
		conn, err := d.DialContext(ctx, network, addr)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			log.Debugf("9P dial %s %s: %v", network, addr, err)
			return err
		}
		c, err := NewClient(conn, opts.MessageSize)
		if err != nil {
			conn.Close()
			return backoff.Permanent(err)
		}
		client = c
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return client, nil
}
