/*
Package security provides cryptographic services for fleetd control-plane
clusters.

This package implements two core security capabilities: at-rest encryption
using AES-256-GCM, and a Certificate Authority (CA) for mutual TLS (mTLS)
between control-plane replicas, servers, and CLI clients.

# Architecture

	┌─────────────────────────────────────────────────────────────┐
	│                    Security Architecture                    │
	└─────┬───────────────────────────────────┬────────────────────┘
	      │                                   │
	      ▼                                   ▼
	┌─────────────┐                  ┌────────────────┐
	│  Encrypted  │                  │       CA       │
	│    Blobs    │                  │  (Root + Leaf) │
	└─────┬───────┘                  └────────┬───────┘
	      │                                   │
	      ▼                                   ▼
	  AES-256-GCM                      RSA 4096-bit root
	  Bootstrap secrets                10-year validity

## Cluster Encryption Key

All at-rest encryption is rooted in the cluster encryption key, a 32-byte
key derived from the cluster ID during bootstrap:

	clusterKey = SHA-256(clusterID)  // 32 bytes for AES-256

This key encrypts:
  - Object-store and other bootstrap credentials (via SecretsManager)
  - The CA's root private key (in storage)

The key is held only in memory on control-plane replicas and must be
re-derived (from the same cluster ID) when a replica joins or restarts.

# Encrypted Blobs

The SecretsManager encrypts and decrypts small at-rest blobs using AES-256
in Galois/Counter Mode (GCM), providing authenticated encryption:

	Plaintext → AES-256-GCM → Ciphertext + Authentication Tag
	                ↑
	            32-byte key

## Encryption Process

 1. Generate random 12-byte nonce
 2. Encrypt plaintext with AES-256-GCM
 3. Prepend nonce to ciphertext
 4. Store combined bytes: [nonce || ciphertext || tag]

Decryption reverses the process and fails closed: a modified ciphertext,
wrong key, or wrong nonce all surface as a decryption error rather than
silently returning garbage.

# Certificate Authority

## Root CA

The CA uses a hierarchical structure with a long-lived root certificate:

	Root CA (self-signed)
	├── 10-year validity
	├── RSA 4096-bit key
	├── KeyUsage: CertSign, CRLSign
	└── Subject: CN=Fleetd Root CA, O=Fleetd Cluster

The root CA is created during cluster bootstrap and stored encrypted with
the cluster encryption key via storage.Store.SaveCA.

## Node Certificates

The CA issues certificates for control-plane replicas and fleet servers:

	Node Certificate
	├── 90-day validity
	├── RSA 2048-bit key
	├── ExtKeyUsage: ServerAuth, ClientAuth
	├── Subject: CN={role}-{nodeID}, O=Fleetd Cluster
	├── DNS Names: [node hostname]
	└── IP Addresses: [node IP]

## Client Certificates

CLI clients receive their own certificates so fleetctl can authenticate to
the control plane without a password:

	CLI Certificate
	├── 90-day validity
	├── ExtKeyUsage: ClientAuth
	└── Subject: CN=cli-{clientID}, O=Fleetd Cluster

# Usage Examples

## Creating a Secrets Manager

	key := security.DeriveKeyFromClusterID(clusterID)
	sm, err := security.NewSecretsManager(key)
	if err != nil {
		panic(err)
	}

## Encrypting an at-rest blob

	blob, err := sm.CreateBlob("object-store-credentials", []byte(secretAccessKey))
	if err != nil {
		panic(err)
	}

	plaintext, err := sm.GetBlobData(blob)
	if err != nil {
		panic(err) // tampering detected or wrong key
	}

## Setting up the Certificate Authority

	store, err := storage.NewBoltStore("/var/lib/fleetd/replica-1/fleetd.db")
	if err != nil {
		panic(err)
	}

	clusterKey := security.DeriveKeyFromClusterID(clusterID)
	if err := security.SetClusterEncryptionKey(clusterKey); err != nil {
		panic(err)
	}

	ca := security.NewCertAuthority(store)
	if err := ca.Initialize(); err != nil {
		panic(err)
	}
	if err := ca.SaveToStore(); err != nil {
		panic(err)
	}

## Issuing node certificates

	tlsCert, err := ca.IssueNodeCertificate("server-7", "server", []string{"server-7.cluster.local"}, nil)
	if err != nil {
		panic(err)
	}

# Integration Points

## Storage Integration

The CA is persisted through storage.Store's ca bucket; the root private key
is AES-256-GCM encrypted before it ever reaches BoltDB.

## mTLS Integration

Raft transport and the internal join endpoint use mTLS with CA-issued
certificates so an untrusted host can't join the cluster or eavesdrop on
replication traffic.

# Security Considerations

Loss of the cluster encryption key makes the cluster's encrypted-at-rest
material (CA private key, bootstrap blobs) unrecoverable; compromise of the
CA private key lets an attacker mint certificates trusted by the whole
cluster. Both the root CA key and the cluster ID should be treated as
cluster-critical secrets.

# See Also

  - pkg/storage for the encrypted CA persistence
  - pkg/manager for the CA lifecycle (Initialize/Join)
*/
package security
