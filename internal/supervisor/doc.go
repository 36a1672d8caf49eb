// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

// Package supervisor builds the suture supervision tree that keeps the
// long-running parts of Qring alive: the signaling hub, the chat log
// writer, audit retention, and the HTTP server. Service wrappers that
// adapt concrete components to suture.Service live in the services
// subpackage.
package supervisor
