/*
Package custody provides the primitives shared by all packages of the
safeseed custody core: addresses, time values, the key-value store
interface, the per-safe lock keyring and the external collaborator
interfaces (Ledger, Notifier).

The actual business logic lives in the x/* packages:

  x/safes    - safe identity: owner sets and signing thresholds
  x/multisig - transaction proposal, confirmation and execution
  x/guardian - emergency freeze and time-locked recovery
  x/limits   - per-asset, per-period spending limits
*/
package custody
