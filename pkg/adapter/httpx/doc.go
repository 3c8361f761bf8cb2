// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

/*
Package httpx provides the HTTP/1.1 and HTTP/2 protocol adapters and the
shared HTTP listener.

HTTP is request-driven while the gateway's connection contract is
message-oriented, so the package bridges the two:

  - The listener turns each request body into one inbound message and the
    handler's payload into the response body. Clients that set the
    X-Edgemux-Session header keep one logical session across requests;
    others get a per-request session.
  - The adapter's Send posts the payload to the backend and queues the
    response body; Receive drains the queue.

The HTTP/2 path runs on golang.org/x/net/http2. Without TLS both sides
use h2c (cleartext HTTP/2 with prior knowledge): the listener wraps its
handler with h2c.NewHandler and the adapter's transport dials with
AllowHTTP. With TLS, standard ALPN negotiation applies.
*/
package httpx
