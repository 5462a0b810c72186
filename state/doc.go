// Copyright (c) 2018 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package state exposes ledger accounts to the execution engine.
//
//	[ journal ] -> [ state.Origin ] -> [ lock checked accounts ] -> [ ledger invocation ]
//
// Every access must target an address the transaction declared. Writes are
// only accepted on accounts exclusively locked by the transaction and never
// grow an account: the iterative machine allocates the space before the
// journal is committed.
package state
