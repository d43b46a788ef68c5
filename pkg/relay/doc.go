// Package relay implements message routing for the relay hub.
//
// The Router decodes every inbound frame into a protocol.Envelope and
// dispatches it to exactly one handler. Handlers read and mutate the shared
// device Registry, the audio stream Reassembler and the stats Collector, and
// use the Broadcaster to fan frames out to every other registered device.
//
// A failing envelope never ends its connection: decode and handler errors
// are answered with one ERROR frame, and frames that are not JSON objects
// are logged and dropped.
//
// Example usage:
//
//	router, err := relay.New(relay.Options{
//	    Registry: registry.New(log),
//	    Streams:  stream.New(cfg.Stream, log),
//	    Stats:    stats.New(),
//	    Sink:     sink,
//	}, log)
//	if err != nil {
//	    return err
//	}
//
//	// Called by the transport for every text frame and once on close
//	router.HandleFrame(ctx, conn, data)
//	router.HandleClose(ctx, conn)
package relay
