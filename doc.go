// Package broadcast implements epidemic dissemination over an
// unstructured peer graph: every node re-forwards novel packets to all
// neighbors except the ones that demonstrably already hold them, so a
// message published anywhere reaches every connected node without any
// global routing state.
//
// The engine is transport-agnostic. A transport.Transport moves opaque
// encoded packets between direct neighbors; a directory.Directory says
// who those neighbors currently are, either pushed by the transport or
// pulled on demand. Duplicate suppression lives in a bounded seencache:
// one token per packet per node known to hold it, expiring after a
// configurable window, so memory stays flat no matter how long the
// engine runs.
//
// Basic use:
//
//	net := transport.NewMemoryNetwork()
//	node, err := broadcast.New(id, net.Join(id))
//	if err != nil {
//		return err
//	}
//	node.Open(ctx)
//	defer node.Close()
//
//	go func() {
//		for pkt := range node.Delivered() {
//			handle(pkt)
//		}
//	}()
//
//	node.Publish(ctx, []byte("hello"))
//
// Per-neighbor send failures, decode failures, and peer lookup failures
// surface as events on Events(); none of them stop the flood.
package broadcast
