package scylla

var schema = []string{
	`CREATE TABLE IF NOT EXISTS tenants (
        tenant_id uuid PRIMARY KEY,
        name text,
        api_key_hash text,
        balance_micros bigint,
        is_active boolean,
        created_at timestamp
    )`,
	`CREATE TABLE IF NOT EXISTS tenants_by_api_key (
        api_key_hash text PRIMARY KEY,
        tenant_id uuid
    )`,
	`CREATE TABLE IF NOT EXISTS transactions (
        tenant_id uuid,
        bucket int,
        transaction_id timeuuid,
        token text,
        phone_encrypted blob,
        phone_key_id text,
        template_snapshot text,
        cost_micros bigint,
        created_at timestamp,
        PRIMARY KEY ((tenant_id, bucket), transaction_id)
    ) WITH CLUSTERING ORDER BY (transaction_id DESC)`,
}
