package daemon

import (
	"github.com/dtnd/dtnd/bundle"
	"github.com/dtnd/dtnd/cmn/mono"
	"github.com/dtnd/dtnd/cmn/nlog"
	"github.com/dtnd/dtnd/event"
)

// drainInFlight is the Daemon-side half of the §4.6 transition table's
// "drain in-flight -> BundleTransmitFailed" side effect for a link
// leaving Open/Busy. contact.Manager invokes it synchronously from
// HandleClosed, before the Contact it names is torn down, so CancelBundle
// still has somewhere to send the cancellation. The eventual
// BundleTransmitFailed/BundleTransmitted outcome still arrives later as
// a normal CL-posted event; this only stops the daemon from believing
// the send is still live.
func (d *Daemon) drainInFlight(linkName string, reason event.Reason) {
	link, ok := d.Contact.Get(linkName)
	if !ok {
		return
	}
	ct := link.Contact()
	if ct == nil {
		return
	}
	drv, err := d.CLs.Get(link.CLName)
	if err != nil {
		nlog.Warningf("daemon: draining link %q: %v", linkName, err)
		return
	}

	var inFlight []*bundle.Bundle
	d.Pending.Range(func(b *bundle.Bundle) bool {
		if b.Log.IsInFlight(linkName) {
			inFlight = append(inFlight, b)
		}
		return true
	})

	for _, b := range inFlight {
		b.Log.Update(linkName, bundle.StateCancelled, mono.NanoTime())
		drv.CancelBundle(ct, b)
		nlog.Infof("daemon: cancelled in-flight send of bundle %d on closing link %q (reason=%s)",
			b.ID(), linkName, reason)
	}
}

// handleControlCommand executes the §6 operator/control-console events
// directly against the Contact Manager and CL registry, instead of
// routing them through the Router: these are administrative actions,
// not bundle-forwarding decisions, so there is nothing for a routing
// policy to decide. It reports whether ev was a control command at all,
// so dispatch knows whether to fall through to the Router.
func (d *Daemon) handleControlCommand(ev event.Event) bool {
	switch ev.Kind {
	case event.LinkCreateRequest:
		if _, err := d.Contact.CreateLink(ev.Link, ev.NextHop, ev.RemoteEID, ev.CLName, ev.LinkParams, ev.LinkKind == "always-on", ev.MTU); err != nil {
			nlog.Errorf("daemon: link_create_request %q: %v", ev.Link, err)
		}
	case event.LinkOpenRequest:
		if err := d.Contact.OpenRequest(ev.Link); err != nil {
			nlog.Errorf("daemon: link_open_request %q: %v", ev.Link, err)
		}
	case event.LinkCloseRequest:
		d.Contact.CloseRequest(ev.Link, ev.Reason)
	case event.LinkDeleteRequest:
		if err := d.Contact.DeleteLink(ev.Link); err != nil {
			nlog.Errorf("daemon: link_delete_request %q: %v", ev.Link, err)
		}
	case event.InterfaceCreateRequest:
		cl, err := d.CLs.Get(ev.CLName)
		if err != nil {
			nlog.Errorf("daemon: interface_create_request %q: %v", ev.IfaceName, err)
			break
		}
		if err := cl.InitInterface(ev.IfaceName, ev.IfaceParams); err != nil {
			nlog.Errorf("daemon: initializing interface %q: %v", ev.IfaceName, err)
		}
	case event.InterfaceDestroyRequest:
		cl, err := d.CLs.Get(ev.CLName)
		if err != nil {
			nlog.Errorf("daemon: interface_destroy_request %q: %v", ev.IfaceName, err)
			break
		}
		if err := cl.DestroyInterface(ev.IfaceName); err != nil {
			nlog.Errorf("daemon: destroying interface %q: %v", ev.IfaceName, err)
		}
	case event.BundleInject:
		if _, err := d.InjectBundle(ev.Inject); err != nil {
			nlog.Errorf("daemon: bundle_inject: %v", err)
		}
	default:
		return false
	}
	return true
}
