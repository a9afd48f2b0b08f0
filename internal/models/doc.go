// Package models defines the core domain models for the ledger node.
//
// # Ledger Models
//
// Records owned by the local device and persisted in the ledger store:
//   - Group, GroupMember: a split group and the people in it
//   - SplitExpense, ExpenseShare: a shared cost and each member's persisted portion
//   - Settlement: a payment between two members of a group
//   - Debt, DebtPayment: person-to-person obligations and payments against them
//   - Account, Transaction: the user's own financial accounts and their bookings
//
// # Relay Messages
//
// DebtNotification and SettlementNotification are not ledger entities. They are
// transient payloads written into a counterpart's mailbox and carry an
// IsProcessed flag that the receiving device sets once it has applied them.
//
// # Design Principles
//
//  1. **Sovereign ledgers**: each device owns its records; mirrored records are
//     independent copies, never shared references
//  2. **Historical shares**: ExpenseShare rows are written once at creation and
//     never recomputed from current membership
//  3. **IDs, not pointers**: relationships use ID strings
package models
