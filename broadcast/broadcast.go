// broadcast/broadcast.go
package broadcast

import (
	"encoding/json"
	"sync"

	"github.com/wfunc/griffonary/logger"
)

// Transport 是外部传输层：按玩家投递一帧，至多一次，不确认
type Transport interface {
	Send(playerID, event string, data []byte) error
}

// Dispatcher fans events out to room members or single players. Its only
// state is the room -> members routing table, which the room actors keep
// current through Track and Untrack.
type Dispatcher struct {
	transport Transport
	routes    map[string]map[string]struct{} // roomID -> playerIDs
	mutex     sync.RWMutex
}

func NewDispatcher(transport Transport) *Dispatcher {
	return &Dispatcher{
		transport: transport,
		routes:    make(map[string]map[string]struct{}),
	}
}

func (d *Dispatcher) Track(roomID, playerID string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	members, ok := d.routes[roomID]
	if !ok {
		members = make(map[string]struct{})
		d.routes[roomID] = members
	}
	members[playerID] = struct{}{}
}

func (d *Dispatcher) Untrack(roomID, playerID string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	members, ok := d.routes[roomID]
	if !ok {
		return
	}
	delete(members, playerID)
	if len(members) == 0 {
		delete(d.routes, roomID)
	}
}

// Recipients returns a copy of the routing entry of roomID.
func (d *Dispatcher) Recipients(roomID string) []string {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	ids := make([]string, 0, len(d.routes[roomID]))
	for id := range d.routes[roomID] {
		ids = append(ids, id)
	}
	return ids
}

func (d *Dispatcher) SendToRoom(roomID, event string, payload interface{}) error {
	data, err := encode(payload)
	if err != nil {
		return err
	}

	for _, playerID := range d.Recipients(roomID) {
		if err := d.transport.Send(playerID, event, data); err != nil {
			logger.Log.Debugf("send %s to %s in room %s failed: %v", event, playerID, roomID, err)
			continue
		}
	}
	return nil
}

func (d *Dispatcher) SendToPlayer(playerID, event string, payload interface{}) error {
	data, err := encode(payload)
	if err != nil {
		return err
	}
	return d.transport.Send(playerID, event, data)
}

func encode(payload interface{}) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	default:
		return json.Marshal(payload)
	}
}
