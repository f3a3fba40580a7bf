/*
Package microhttpd is a small HTTP/1.1 serving engine built directly on
epoll and a fixed pool of worker goroutines.

It accepts many simultaneous connections on one listening socket,
parses requests with an in-buffer state machine, serves static files by
mapping them into memory and writing a two-slot gather vector, executes
dynamic requests through a CGI child process, and reaps idle
connections with a timer tick delivered over a self-pipe.

Quick Start

	microhttpd -doc-root ./resources 8080

Modules

The server is organized into several modules:

  - app: application lifecycle management
  - config: flag/YAML configuration with hot reload of the document root
  - core: the reactor event loop and descriptor table
  - core/http: per-connection parser, responder and CGI handler
  - core/poller: epoll with one-shot edge-triggered re-arming
  - core/pools: worker, buffer and connection pooling
  - core/expiry: deadline min-heap for idle-connection reaping
  - core/tick: the signal/timer to self-pipe bridge
  - core/metrics: Prometheus exposition

Concurrency model

Every socket is touched by three actors: the reactor goroutine, at most
one worker at a time, and the expiry tick. One-shot readiness re-arming
serialises reactor and worker access; close is idempotent so the tick
may race a failing worker safely.
*/
package microhttpd
