package wallet

import (
	"sync"

	"gorenbridge/types"
)

type Account struct {
	Address   string `json:"address"`
	Connected bool   `json:"connected"`
}

// State is the wallet and chain selection shared by every flow and the
// history view.
type State struct {
	Chain         types.Chain             `json:"chain"`
	Accounts      map[types.Chain]Account `json:"accounts"`
	HistoryOpened bool                    `json:"historyOpened"`
}

func (s State) Account(chain types.Chain) Account {
	return s.Accounts[chain]
}

func (s State) clone() State {
	out := s
	out.Accounts = make(map[types.Chain]Account, len(s.Accounts))
	for k, v := range s.Accounts {
		out.Accounts[k] = v
	}
	return out
}

// Action mutates State, it is applied under the store lock.
type Action interface {
	apply(s *State)
}

type SetChain struct{ Chain types.Chain }

func (a SetChain) apply(s *State) { s.Chain = a.Chain }

type Connect struct {
	Chain   types.Chain
	Address string
}

func (a Connect) apply(s *State) {
	s.Accounts[a.Chain] = Account{Address: a.Address, Connected: true}
}

type Disconnect struct{ Chain types.Chain }

func (a Disconnect) apply(s *State) {
	acc := s.Accounts[a.Chain]
	acc.Connected = false
	s.Accounts[a.Chain] = acc
}

type SetHistoryOpened struct{ Opened bool }

func (a SetHistoryOpened) apply(s *State) { s.HistoryOpened = a.Opened }

// Store holds State: reads go through Snapshot/Subscribe, writes through Dispatch.
type Store struct {
	mu     sync.Mutex
	state  State
	subs   map[int]chan State
	nextID int
}

func NewStore(chain types.Chain) *Store {
	return &Store{
		state: State{Chain: chain, Accounts: map[types.Chain]Account{}},
		subs:  map[int]chan State{},
	}
}

func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

func (s *Store) Dispatch(a Action) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a.apply(&s.state)
	snapshot := s.state.clone()
	for _, ch := range s.subs {
		// subscribers only care about the latest state
		select {
		case <-ch:
		default:
		}
		ch <- snapshot
	}
}

// Subscribe delivers the current state immediately and every later one.
// Slow readers see only the latest state. cancel must be called to release
// the subscription.
func (s *Store) Subscribe() (<-chan State, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan State, 1)
	ch <- s.state.clone()
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// RequestChainSwitch asks the wallet layer to make chain the active one.
func (s *Store) RequestChainSwitch(chain types.Chain) {
	s.Dispatch(SetChain{Chain: chain})
}
