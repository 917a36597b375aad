package netconf

import (
	"context"
	"encoding/xml"
	"fmt"
	"log"
	"time"

	"github.com/kasloop/netconfd/pkg/vtree"
)

// GetRequest represents <get> RPC for state plus running config data
type GetRequest struct {
	XMLName xml.Name `xml:"get"`
	Filter  *Filter  `xml:"filter"`
}

var serverStart = time.Time{}

// SetServerStartTime records the instant the server came up, used to
// compute <system><uptime> in <get> replies. Call once at startup.
func SetServerStartTime(t time.Time) {
	serverStart = t
}

// handleGet handles <get> RPC - retrieves running config merged with
// this engine's own operational state (session count, uptime).
func (s *Server) handleGet(ctx context.Context, sess *Session, rpc *RPC) *RPCReply {
	var req GetRequest
	if err := rpc.UnmarshalOperation(&req); err != nil {
		return NewErrorReply(rpc.MessageID, err.(*RPCError))
	}

	if err := req.Filter.Validate("get"); err != nil {
		return NewErrorReply(rpc.MessageID, err.(*RPCError))
	}
	if err := ValidateFilterDepthAndSize("get", req.Filter); err != nil {
		return NewErrorReply(rpc.MessageID, err.(*RPCError))
	}

	runningCfg, err := s.datastore.GetRunning(ctx)
	if err != nil {
		log.Printf("[NETCONF] get: failed to read running config: %v", err)
		return NewErrorReply(rpc.MessageID, ErrDatastoreError(fmt.Sprintf("failed to read running config: %v", err)))
	}

	root, err := TextToNode(runningCfg.ConfigText)
	if err != nil {
		log.Printf("[NETCONF] get: failed to parse running config: %v", err)
		return NewErrorReply(rpc.MessageID, ErrDatastoreError(fmt.Sprintf("failed to parse running config: %v", err)))
	}
	s.schema.Annotate(root)
	root.AddChildCanonical(s.operationalState())

	xmlData, err := s.encodeFiltered(root, req.Filter, sess.Role)
	if err != nil {
		log.Printf("[NETCONF] get: filter/encode error: %v", err)
		return NewErrorReply(rpc.MessageID, ErrInvalidFilter("get", err.Error()))
	}

	return NewDataReply(rpc.MessageID, xmlData)
}

// operationalState builds this server's own <state> tree: data a real
// agent could report without a backing device, tagged vtree.State so it
// is never subject to edit-config or the root-check's config invariants.
func (s *Server) operationalState() *vtree.Node {
	state := vtree.NewContainer("state", netconfdStateNamespace, vtree.Container)
	state.Class = vtree.State

	var uptime string
	if !serverStart.IsZero() {
		uptime = time.Since(serverStart).Truncate(time.Second).String()
	} else {
		uptime = "0s"
	}
	state.AddChildCanonical(leafState("uptime", uptime))
	state.AddChildCanonical(leafState("active-sessions", fmt.Sprintf("%d", s.sessions.Count())))

	return state
}

func leafState(name, value string) *vtree.Node {
	n := vtree.NewLeaf(name, netconfdStateNamespace, value, vtree.Leaf)
	n.Class = vtree.State
	return n
}

const netconfdStateNamespace = "urn:kasloop:netconfd:state"
