package pgstore

import "github.com/indexsupply/encdex/pgmig"

var Migrations = map[int]pgmig.Migration{
	0: pgmig.Migration{
		SQL: `
			create table if not exists encdex.records (
				collection text not null,
				id uuid not null,
				payload bytea,
				inserted_at timestamptz default now() not null,
				primary key (collection, id)
			);
			create table if not exists encdex.filters (
				collection text not null,
				id uuid not null,
				index_name text not null,
				bits int4[] not null,
				primary key (collection, id, index_name),
				foreign key (collection, id)
					references encdex.records (collection, id)
					on delete cascade
			);
		`,
	},
	1: pgmig.Migration{
		DisableTX: true,
		SQL: `
			create index concurrently if not exists filters_bits
			on encdex.filters
			using gin (bits);
		`,
	},
}
