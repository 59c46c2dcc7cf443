// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fieldwatch derives individual field changes from the host's
// change notifications.
//
// The host reports three classes of scalar change. Flat fields and
// named levels are reported directly and are deduplicated against the
// last observed value. Packed fields are never reported directly:
// several of them share one container value, and the host only
// reports that the container changed. The [Observer] keeps the
// previous value of every container that holds a tracked packed field
// and extracts each sub-field from both the old and the new value to
// decide which ones changed.
//
// Notifications arrive on a channel consumed by [Observer.Run]. The
// same channel carries bit-log, session, packed definition, and
// manifest updates so that all of them are applied in the order the
// host produced them.
package fieldwatch
