// Package event defines the vocabulary shared by every producer (a
// convergence layer, the timer subsystem, the contact manager, the
// application-facing injector) and the single consumer, the Bundle
// Daemon: the Event union the daemon dispatches and the Action union the
// Router returns from handling one (§4.7, §4.8).
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package event

// Kind tags which field of Event (resp. Action) is populated. A tagged
// struct is used instead of an interface so the queue never boxes an
// event in an interface value; the daemon dispatches with a plain switch
// on Kind.
type Kind int

const (
	// bundle lifecycle
	BundleReceived Kind = iota
	BundleTransmitted
	BundleTransmitFailed
	BundleExpired
	BundleFree

	// registrations
	RegistrationAdded
	RegistrationRemoved

	// links / contacts
	LinkCreated
	LinkDeleted
	LinkAvailable
	LinkUnavailable
	ContactUp
	ContactDown
	LinkBusy
	LinkUnblocked

	// custody
	CustodyTimeout

	// operator / control-console commands (§6)
	LinkCreateRequest
	LinkOpenRequest
	LinkCloseRequest
	LinkDeleteRequest
	InterfaceCreateRequest
	InterfaceDestroyRequest
	BundleInject
)

func (k Kind) String() string {
	switch k {
	case BundleReceived:
		return "BundleReceived"
	case BundleTransmitted:
		return "BundleTransmitted"
	case BundleTransmitFailed:
		return "BundleTransmitFailed"
	case BundleExpired:
		return "BundleExpired"
	case BundleFree:
		return "BundleFree"
	case RegistrationAdded:
		return "RegistrationAdded"
	case RegistrationRemoved:
		return "RegistrationRemoved"
	case LinkCreated:
		return "LinkCreated"
	case LinkDeleted:
		return "LinkDeleted"
	case LinkAvailable:
		return "LinkAvailable"
	case LinkUnavailable:
		return "LinkUnavailable"
	case ContactUp:
		return "ContactUp"
	case ContactDown:
		return "ContactDown"
	case LinkBusy:
		return "LinkBusy"
	case LinkUnblocked:
		return "LinkUnblocked"
	case CustodyTimeout:
		return "CustodyTimeout"
	case LinkCreateRequest:
		return "LinkCreateRequest"
	case LinkOpenRequest:
		return "LinkOpenRequest"
	case LinkCloseRequest:
		return "LinkCloseRequest"
	case LinkDeleteRequest:
		return "LinkDeleteRequest"
	case InterfaceCreateRequest:
		return "InterfaceCreateRequest"
	case InterfaceDestroyRequest:
		return "InterfaceDestroyRequest"
	case BundleInject:
		return "BundleInject"
	default:
		return "Unknown"
	}
}

// Source classifies where a BundleReceived event originated (§4.7).
type Source int

const (
	FromApp Source = iota
	FromPeer
	FromStore
	FromFragmentation
)

// Reason tags a link-state transition or a transmit failure (§4.6).
type Reason int

const (
	NoInfo Reason = iota
	User
	Broken
	Shutdown
	Reconnect
	Idle
	Timeout
	Unblocked
	Cancelled
)

func (r Reason) String() string {
	switch r {
	case User:
		return "User"
	case Broken:
		return "Broken"
	case Shutdown:
		return "Shutdown"
	case Reconnect:
		return "Reconnect"
	case Idle:
		return "Idle"
	case Timeout:
		return "Timeout"
	case Unblocked:
		return "Unblocked"
	case Cancelled:
		return "Cancelled"
	default:
		return "NoInfo"
	}
}

// Event is the tagged union posted to the daemon's single-consumer queue.
type Event struct {
	Kind Kind

	BundleID uint32 // most kinds key off the bundle id
	Source   Source // BundleReceived

	Link    string // link-scoped events
	Contact uint64 // contact handle (contact.Contact.Handle), set on ContactUp/Down

	BytesSent     int64 // BundleTransmitted
	ReliablySent  bool  // BundleTransmitted
	Reason        Reason
	Err           error // BundleTransmitFailed / CLInternal detail

	// InterfaceCreateRequest / InterfaceDestroyRequest
	IfaceName   string
	IfaceParams map[string]string

	// LinkCreateRequest / InterfaceCreateRequest: names the registered
	// cla.Manager entry the link or interface is bound to.
	CLName string

	// LinkCreateRequest
	LinkParams map[string]string
	NextHop    string
	RemoteEID  string
	LinkKind   string
	MTU        int64

	// RegistrationAdded / Removed
	RegID uint32

	// BundleInject: a fully formed submission from the application
	Inject *Injection
}

// Injection carries an application-submitted bundle's fields; the
// daemon's InjectBundle path (§9 resolved Open Question) turns this into
// a live Bundle, assigns a bundleid, and posts BundleReceived(App).
type Injection struct {
	Source, Dest, ReplyTo string
	Priority              int
	CustodyRequested      bool
	DoNotFragment         bool
	LifetimeSec           int64
	Payload               []byte
}

// ActionKind tags an Action returned by the Router.
type ActionKind int

const (
	Enqueue ActionKind = iota
	Cancel
	Delete
	StoreAdd
	StoreUpdate
	StoreDel
	Deliver
)

func (k ActionKind) String() string {
	switch k {
	case Enqueue:
		return "Enqueue"
	case Cancel:
		return "Cancel"
	case Delete:
		return "Delete"
	case StoreAdd:
		return "StoreAdd"
	case StoreUpdate:
		return "StoreUpdate"
	case StoreDel:
		return "StoreDel"
	case Deliver:
		return "Deliver"
	default:
		return "Unknown"
	}
}

// ForwardAction mirrors ForwardingInfo.action (§3).
type ForwardAction int

const (
	ForwardUnique ForwardAction = iota
	ForwardCopy
	ForwardFirst
	ForwardReassemble
)

// Action is one directive the Router returns from handling an Event.
type Action struct {
	Kind ActionKind

	BundleID uint32
	Link     string

	Forward      ForwardAction
	CustodyTimer int64 // nanoseconds; 0 means no custody timer requested

	DeleteReason string

	// RegID: the target registration for a Deliver action.
	RegID uint32
}

// Poster is how every producer reaches the daemon's queue.
type Poster interface {
	// Post enqueues an event from an external producer (a CL task, the
	// timer driver, an operator command). It blocks once the queue is
	// at its high-water mark — back-pressure, per §5: "never drop".
	Post(Event)

	// PostLocal enqueues an event generated by the daemon task itself
	// while it is already processing another event (e.g. a refcount
	// drop to zero during action execution). It never blocks, so a
	// list or bundle lock held by the caller can never deadlock against
	// the daemon's own queue. The daemon drains these ahead of the
	// external queue on every loop iteration.
	PostLocal(Event)
}
