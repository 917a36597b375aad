package netconf

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"log"
	"strings"

	"github.com/kasloop/netconfd/pkg/filter"
	"github.com/kasloop/netconfd/pkg/txn"
	"github.com/kasloop/netconfd/pkg/vtree"
	"github.com/kasloop/netconfd/pkg/xpath"
)

// GetConfigRequest represents <get-config> RPC
type GetConfigRequest struct {
	XMLName xml.Name `xml:"get-config"`
	Source  Source   `xml:"source"`
	Filter  *Filter  `xml:"filter"`
}

// checkLockOwnership verifies if the session holds the lock for the target datastore.
// Write operations (edit-config, copy-config, delete-config, commit, discard-changes)
// require the session to hold the lock. Returns an RPCError if:
// - Lock is not acquired at all
// - Lock is held by another session
// Returns nil if this session holds the lock.
//
// rpcName should be the operation name (edit-config, copy-config, delete-config, commit, discard-changes).
// The error-path will be set to:
// - /rpc/{rpcName}/target for operations with explicit target element
// - /rpc/{rpcName} for operations without target element (commit, discard-changes)
func (s *Server) checkLockOwnership(ctx context.Context, sess *Session, target, rpcName string) *RPCError {
	lockInfo, err := s.datastore.GetLockInfo(ctx, target)
	if err != nil {
		log.Printf("[NETCONF] Failed to get lock info for %s: %v", target, err)
		return ErrDatastoreError(fmt.Sprintf("failed to check lock status for %s", target))
	}

	// Determine if RPC has explicit target element in XML
	hasTargetElement := (rpcName == "edit-config" || rpcName == "copy-config" || rpcName == "delete-config")

	// Check if lock is acquired
	if !lockInfo.IsLocked {
		// Lock not acquired - deny operation
		return ErrLockDenied(target, rpcName, hasTargetElement)
	}

	// Check if this session owns the lock
	if lockInfo.SessionID != sess.ID {
		// Lock held by another session - deny operation
		ownerNumericID := s.sessionIDToNumeric(lockInfo.SessionID)
		return ErrLockDeniedWithOwner(target, rpcName, ownerNumericID, hasTargetElement)
	}

	return nil
}

// handleGetConfig handles <get-config> RPC
func (s *Server) handleGetConfig(ctx context.Context, sess *Session, rpc *RPC) *RPCReply {
	var req GetConfigRequest
	if err := rpc.UnmarshalOperation(&req); err != nil {
		return NewErrorReply(rpc.MessageID, err.(*RPCError))
	}

	// Get datastore name
	ds, err := req.Source.GetDatastore()
	if err != nil {
		return NewErrorReply(rpc.MessageID, err.(*RPCError))
	}

	// Validate filter
	if err := req.Filter.Validate("get-config"); err != nil {
		return NewErrorReply(rpc.MessageID, err.(*RPCError))
	}

	// Validate filter depth and size limits
	if err := ValidateFilterDepthAndSize("get-config", req.Filter); err != nil {
		return NewErrorReply(rpc.MessageID, err.(*RPCError))
	}

	// Get configuration text from datastore
	var textCfg string
	switch ds {
	case DatastoreRunning:
		runningCfg, err := s.datastore.GetRunning(ctx)
		if err != nil {
			log.Printf("[NETCONF] GetConfig error for %s: %v", ds, err)
			return NewErrorReply(rpc.MessageID, ErrDatastoreError(fmt.Sprintf("failed to retrieve %s config: %v", ds, err)))
		}
		textCfg = runningCfg.ConfigText
	case DatastoreCandidate:
		candidateCfg, err := s.datastore.GetCandidate(ctx, sess.ID)
		if err != nil {
			log.Printf("[NETCONF] GetConfig error for %s: %v", ds, err)
			return NewErrorReply(rpc.MessageID, ErrDatastoreError(fmt.Sprintf("failed to retrieve %s config: %v", ds, err)))
		}
		textCfg = candidateCfg.ConfigText
	case DatastoreStartup:
		startupCfg, err := s.datastore.GetStartup(ctx)
		if err != nil {
			log.Printf("[NETCONF] GetConfig error for %s: %v", ds, err)
			return NewErrorReply(rpc.MessageID, ErrDatastoreError(fmt.Sprintf("failed to retrieve %s config: %v", ds, err)))
		}
		textCfg = startupCfg.ConfigText
	default:
		return NewErrorReply(rpc.MessageID, ErrInvalidTarget("get-config", ds))
	}

	root, err := TextToNode(textCfg)
	if err != nil {
		log.Printf("[NETCONF] Failed to parse %s config: %v", ds, err)
		return NewErrorReply(rpc.MessageID, ErrDatastoreError(fmt.Sprintf("failed to parse %s config: %v", ds, err)))
	}
	s.schema.Annotate(root)

	xmlData, err := s.encodeFiltered(root, req.Filter, sess.Role)
	if err != nil {
		log.Printf("[NETCONF] Filter/encode error: %v", err)
		return NewErrorReply(rpc.MessageID, ErrInvalidFilter("get-config", err.Error()))
	}

	return NewDataReply(rpc.MessageID, xmlData)
}

// encodeFiltered applies f (an xpath or subtree filter, if any) to root's children
// and serializes the surviving nodes into a <data> payload. With no filter,
// every child the session's role may read is emitted.
func (s *Server) encodeFiltered(root *vtree.Node, f *Filter, role string) ([]byte, error) {
	var matched []*vtree.Node
	switch {
	case f != nil && f.Type == "xpath" && strings.TrimSpace(f.Select) != "":
		expr, err := xpath.Compile(f.Select)
		if err != nil {
			return nil, err
		}
		if shell := filter.XPath(root, expr, role, s.authz); shell != nil {
			matched = shell.Children
		}
	case f != nil && len(f.Content) > 0:
		filterRoots, err := filter.ParseSubtree(f.Content)
		if err != nil {
			return nil, err
		}
		matched = filter.Subtree(root, filterRoots, role, s.authz, true)
	default:
		for _, c := range root.Children {
			if s.authz.CanRead(role, c.Path()) {
				matched = append(matched, c)
			}
		}
	}

	var buf bytes.Buffer
	for _, n := range matched {
		if err := vtree.EncodeXML(&buf, n, false, false); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// EditConfigRequest represents <edit-config> RPC
type EditConfigRequest struct {
	XMLName          xml.Name          `xml:"edit-config"`
	Target           Target            `xml:"target"`
	DefaultOperation *DefaultOperation `xml:"default-operation"`
	TestOption       *TestOption       `xml:"test-option"`
	ErrorOption      *ErrorOption      `xml:"error-option"`
	Config           ConfigElement     `xml:"config"`
}

// ConfigElement represents <config> element in edit-config
type ConfigElement struct {
	Content []byte `xml:",innerxml"`
}

// handleEditConfig handles <edit-config> RPC
func (s *Server) handleEditConfig(ctx context.Context, sess *Session, rpc *RPC) *RPCReply {
	var req EditConfigRequest
	if err := rpc.UnmarshalOperation(&req); err != nil {
		return NewErrorReply(rpc.MessageID, err.(*RPCError))
	}

	// Get target datastore
	target, err := req.Target.GetDatastore()
	if err != nil {
		return NewErrorReply(rpc.MessageID, err.(*RPCError))
	}

	// Only candidate is writable (writable-running not supported)
	if target != DatastoreCandidate {
		if target == DatastoreRunning {
			return NewErrorReply(rpc.MessageID, ErrWritableRunningNotSupported())
		}
		return NewErrorReply(rpc.MessageID, ErrInvalidTarget("edit-config", target))
	}

	// Check if session holds candidate lock
	if lockErr := s.checkLockOwnership(ctx, sess, DatastoreCandidate, "edit-config"); lockErr != nil {
		return NewErrorReply(rpc.MessageID, lockErr)
	}

	if req.TestOption != nil && *req.TestOption != TestSet {
		return NewErrorReply(rpc.MessageID,
			NewRPCError(ErrorTypeProtocol, ErrorTagOperationNotSupported,
				fmt.Sprintf("unsupported test-option: %s", *req.TestOption)).
				WithPath("/rpc/edit-config/test-option").
				WithBadElement(string(*req.TestOption)))
	}
	if req.ErrorOption != nil && *req.ErrorOption != ErrorStop {
		return NewErrorReply(rpc.MessageID,
			NewRPCError(ErrorTypeProtocol, ErrorTagOperationNotSupported,
				fmt.Sprintf("unsupported error-option: %s", *req.ErrorOption)).
				WithPath("/rpc/edit-config/error-option").
				WithBadElement(string(*req.ErrorOption)))
	}

	defaultOp := DefaultOpMerge
	if req.DefaultOperation != nil {
		defaultOp = *req.DefaultOperation
	}

	editRoot, err := vtree.DecodeXML(wrapConfigElement(req.Config.Content))
	if err != nil {
		log.Printf("[NETCONF] edit-config payload parse error: %v", err)
		return NewErrorReply(rpc.MessageID, ErrMalformedMessage(fmt.Sprintf("config parsing failed: %v", err)))
	}
	s.schema.Annotate(editRoot)

	// Get existing candidate text or create new from running
	var existingTextCfg string
	candidateCfg, err := s.datastore.GetCandidate(ctx, sess.ID)
	if err != nil {
		runningCfg, err := s.datastore.GetRunning(ctx)
		if err != nil {
			log.Printf("[NETCONF] Failed to get running config: %v", err)
			return NewErrorReply(rpc.MessageID, ErrDatastoreError("failed to initialize candidate"))
		}
		existingTextCfg = runningCfg.ConfigText
	} else {
		existingTextCfg = candidateCfg.ConfigText
	}

	existingRoot, err := TextToNode(existingTextCfg)
	if err != nil {
		log.Printf("[NETCONF] Failed to parse existing config: %v", err)
		return NewErrorReply(rpc.MessageID, ErrDatastoreError("failed to parse existing candidate"))
	}
	s.schema.Annotate(existingRoot)

	if defaultOp == DefaultOpReplace {
		existingRoot.Children = nil
	}

	tx, err := s.txns.Begin(sess.ID, txn.EditPartial, true, false)
	if err != nil {
		log.Printf("[NETCONF] edit-config could not start transaction: %v", err)
		return NewErrorReply(rpc.MessageID, ErrOperationFailed(fmt.Sprintf("datastore busy: %v", err)))
	}
	defer s.txns.End(tx)

	if err := ApplyEditTree(tx, existingRoot, editRoot); err != nil {
		tx.Rollback()
		log.Printf("[NETCONF] edit-config apply error: %v", err)
		return NewErrorReply(rpc.MessageID, ErrOperationFailed(fmt.Sprintf("edit apply failed: %v", err)))
	}

	if violations := s.schema.CheckDatastore(existingRoot); len(violations) > 0 {
		tx.Rollback()
		return NewErrorReply(rpc.MessageID, ErrValidationFailed(violations[0].Message))
	}
	tx.Discard()

	mergedTextCfg, err := NodeToText(existingRoot)
	if err != nil {
		log.Printf("[NETCONF] Failed to convert merged config to text: %v", err)
		return NewErrorReply(rpc.MessageID, ErrDatastoreError("failed to serialize merged config"))
	}

	if err := s.datastore.SaveCandidate(ctx, sess.ID, mergedTextCfg); err != nil {
		log.Printf("[NETCONF] Failed to save candidate: %v", err)
		return NewErrorReply(rpc.MessageID, ErrDatastoreError(fmt.Sprintf("failed to save candidate: %v", err)))
	}

	return NewOKReply(rpc.MessageID)
}

// wrapConfigElement re-wraps edit-config's innerxml <config> payload into a
// single root-bearing document DecodeXML can parse: the payload is a forest
// of top-level elements (system, interfaces, ...), not one XML document.
func wrapConfigElement(content []byte) []byte {
	return append(append([]byte("<config>"), content...), []byte("</config>")...)
}

// CopyConfigRequest represents <copy-config> RPC
type CopyConfigRequest struct {
	XMLName xml.Name `xml:"copy-config"`
	Target  Target   `xml:"target"`
	Source  Source   `xml:"source"`
}

// handleCopyConfig handles <copy-config> RPC
func (s *Server) handleCopyConfig(ctx context.Context, sess *Session, rpc *RPC) *RPCReply {
	var req CopyConfigRequest
	if err := rpc.UnmarshalOperation(&req); err != nil {
		return NewErrorReply(rpc.MessageID, err.(*RPCError))
	}

	// Get target and source datastores
	target, err := req.Target.GetDatastore()
	if err != nil {
		return NewErrorReply(rpc.MessageID, err.(*RPCError))
	}

	source, err := req.Source.GetDatastore()
	if err != nil {
		return NewErrorReply(rpc.MessageID, err.(*RPCError))
	}

	// Only candidate is writable as target
	if target != DatastoreCandidate {
		if target == DatastoreRunning {
			return NewErrorReply(rpc.MessageID, ErrWritableRunningNotSupported())
		}
		return NewErrorReply(rpc.MessageID, ErrInvalidTarget("copy-config", target))
	}

	// Check if session holds candidate lock
	if lockErr := s.checkLockOwnership(ctx, sess, DatastoreCandidate, "copy-config"); lockErr != nil {
		return NewErrorReply(rpc.MessageID, lockErr)
	}

	// Get source config text
	var srcTextCfg string
	switch source {
	case DatastoreRunning:
		runningCfg, err := s.datastore.GetRunning(ctx)
		if err != nil {
			log.Printf("[NETCONF] CopyConfig source read error: %v", err)
			return NewErrorReply(rpc.MessageID, ErrDatastoreError(fmt.Sprintf("failed to read source %s: %v", source, err)))
		}
		srcTextCfg = runningCfg.ConfigText
	case DatastoreCandidate:
		candidateCfg, err := s.datastore.GetCandidate(ctx, sess.ID)
		if err != nil {
			log.Printf("[NETCONF] CopyConfig source read error: %v", err)
			return NewErrorReply(rpc.MessageID, ErrDatastoreError(fmt.Sprintf("failed to read source %s: %v", source, err)))
		}
		srcTextCfg = candidateCfg.ConfigText
	case DatastoreStartup:
		startupCfg, err := s.datastore.GetStartup(ctx)
		if err != nil {
			log.Printf("[NETCONF] CopyConfig source read error: %v", err)
			return NewErrorReply(rpc.MessageID, ErrDatastoreError(fmt.Sprintf("failed to read source %s: %v", source, err)))
		}
		srcTextCfg = startupCfg.ConfigText
	default:
		return NewErrorReply(rpc.MessageID, ErrInvalidTarget("copy-config", source))
	}

	// Save to candidate
	if err := s.datastore.SaveCandidate(ctx, sess.ID, srcTextCfg); err != nil {
		log.Printf("[NETCONF] CopyConfig target write error: %v", err)
		return NewErrorReply(rpc.MessageID, ErrDatastoreError(fmt.Sprintf("failed to write target %s: %v", target, err)))
	}

	return NewOKReply(rpc.MessageID)
}

// DeleteConfigRequest represents <delete-config> RPC
type DeleteConfigRequest struct {
	XMLName xml.Name `xml:"delete-config"`
	Target  Target   `xml:"target"`
}

// handleDeleteConfig handles <delete-config> RPC
func (s *Server) handleDeleteConfig(ctx context.Context, sess *Session, rpc *RPC) *RPCReply {
	var req DeleteConfigRequest
	if err := rpc.UnmarshalOperation(&req); err != nil {
		return NewErrorReply(rpc.MessageID, err.(*RPCError))
	}

	// Get target datastore
	target, err := req.Target.GetDatastore()
	if err != nil {
		return NewErrorReply(rpc.MessageID, err.(*RPCError))
	}

	// Only candidate can be deleted
	if target != DatastoreCandidate {
		if target == DatastoreRunning {
			return NewErrorReply(rpc.MessageID, NewRPCError(ErrorTypeProtocol, ErrorTagOperationNotSupported, "cannot delete running datastore"))
		}
		return NewErrorReply(rpc.MessageID, ErrInvalidTarget("delete-config", target))
	}

	// Check if session holds candidate lock
	if lockErr := s.checkLockOwnership(ctx, sess, DatastoreCandidate, "delete-config"); lockErr != nil {
		return NewErrorReply(rpc.MessageID, lockErr)
	}

	// Delete candidate (idempotent)
	if err := s.datastore.DeleteCandidate(ctx, sess.ID); err != nil {
		log.Printf("[NETCONF] DeleteConfig error: %v", err)
		return NewErrorReply(rpc.MessageID, ErrDatastoreError(fmt.Sprintf("failed to delete candidate: %v", err)))
	}

	return NewOKReply(rpc.MessageID)
}
