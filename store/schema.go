package store

// schema returns the DDL statements that create the vault's tables,
// one dialect-specific variant per supported driver ("sqlite",
// "postgres"), mirroring btcwallet/internal/sqltest's dual-driver test
// wiring. The core treats this as an implementation detail of the
// persistence contract (spec.md section 1: "the spec defines the
// logical queries the core requires, not a schema DDL") — no package
// outside store ever issues raw SQL.
func schema(driver string) []string {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	blob := "BLOB"
	boolT := "INTEGER"
	if driver == "postgres" {
		serial = "BIGSERIAL PRIMARY KEY"
		blob = "BYTEA"
		boolT = "BOOLEAN"
	}

	return []string{
		`CREATE TABLE IF NOT EXISTS keychains (
			id ` + serial + `,
			content_hash ` + blob + ` NOT NULL UNIQUE,
			name TEXT NOT NULL UNIQUE,
			depth INTEGER NOT NULL,
			child_num INTEGER NOT NULL,
			parent_fp INTEGER NOT NULL,
			parent_id BIGINT,
			ext_pub_key ` + blob + ` NOT NULL,
			chain_code_enc ` + blob + ` NOT NULL,
			chain_code_salt ` + blob + ` NOT NULL,
			chain_code_n INTEGER NOT NULL,
			chain_code_r INTEGER NOT NULL,
			chain_code_p INTEGER NOT NULL,
			has_private ` + boolT + ` NOT NULL,
			priv_key_enc ` + blob + `,
			priv_key_cipher_params ` + blob + `
		)`,
		`CREATE TABLE IF NOT EXISTS keys (
			id ` + serial + `,
			keychain_id BIGINT NOT NULL,
			key_index INTEGER NOT NULL,
			pub_key ` + blob + ` NOT NULL,
			is_private ` + boolT + ` NOT NULL,
			priv_key_enc ` + blob + `,
			UNIQUE(keychain_id, key_index)
		)`,
		`CREATE TABLE IF NOT EXISTS accounts (
			id ` + serial + `,
			content_hash ` + blob + ` NOT NULL UNIQUE,
			name TEXT NOT NULL UNIQUE,
			m INTEGER NOT NULL,
			unused_pool_size INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS account_keychains (
			account_id BIGINT NOT NULL,
			ordinal INTEGER NOT NULL,
			keychain_id BIGINT NOT NULL,
			PRIMARY KEY(account_id, ordinal)
		)`,
		`CREATE TABLE IF NOT EXISTS account_bins (
			id ` + serial + `,
			account_id BIGINT NOT NULL,
			name TEXT NOT NULL,
			is_change ` + boolT + ` NOT NULL,
			next_script_index INTEGER NOT NULL,
			UNIQUE(account_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS signing_scripts (
			id ` + serial + `,
			bin_id BIGINT NOT NULL,
			script_index INTEGER NOT NULL,
			status INTEGER NOT NULL,
			txout_script ` + blob + ` NOT NULL,
			txin_script ` + blob + `,
			label TEXT NOT NULL DEFAULT '',
			UNIQUE(bin_id, script_index)
		)`,
		`CREATE TABLE IF NOT EXISTS signing_script_keys (
			signing_script_id BIGINT NOT NULL,
			ordinal INTEGER NOT NULL,
			key_id BIGINT NOT NULL,
			PRIMARY KEY(signing_script_id, ordinal)
		)`,
		`CREATE TABLE IF NOT EXISTS block_headers (
			id ` + serial + `,
			hash ` + blob + ` NOT NULL UNIQUE,
			prev_hash ` + blob + ` NOT NULL,
			merkle_root ` + blob + ` NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			bits INTEGER NOT NULL,
			nonce BIGINT NOT NULL,
			version INTEGER NOT NULL,
			height INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS merkle_blocks (
			id ` + serial + `,
			block_header_id BIGINT NOT NULL UNIQUE,
			tx_hashes ` + blob + ` NOT NULL,
			flag_bits ` + blob + ` NOT NULL,
			num_tx INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS txs (
			id ` + serial + `,
			hash ` + blob + `,
			unsigned_hash ` + blob + ` NOT NULL UNIQUE,
			raw_tx ` + blob + ` NOT NULL,
			status INTEGER NOT NULL,
			block_id BIGINT,
			block_index BIGINT NOT NULL,
			fee BIGINT NOT NULL,
			fee_known ` + boolT + ` NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			sending_account_id BIGINT
		)`,
		`CREATE TABLE IF NOT EXISTS tx_ins (
			id ` + serial + `,
			tx_id BIGINT NOT NULL,
			tx_index INTEGER NOT NULL,
			out_hash ` + blob + ` NOT NULL,
			out_index INTEGER NOT NULL,
			script ` + blob + ` NOT NULL,
			sequence BIGINT NOT NULL,
			UNIQUE(tx_id, tx_index)
		)`,
		`CREATE TABLE IF NOT EXISTS tx_outs (
			id ` + serial + `,
			tx_id BIGINT NOT NULL,
			tx_index INTEGER NOT NULL,
			value BIGINT NOT NULL,
			txout_script ` + blob + ` NOT NULL,
			status INTEGER NOT NULL,
			signing_script_id BIGINT,
			spent_by_tx_in_id BIGINT,
			sending_account_id BIGINT,
			UNIQUE(tx_id, tx_index)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tx_ins_outpoint ON tx_ins(out_hash, out_index)`,
	}
}
