package postgres

const (
	queryCreateUser = `
		INSERT INTO users (username, email, password_hash, zipcode, pronouns, bio, is_admin, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id;
	`
	querySelectUser = `
		SELECT id, username, email, password_hash, zipcode, pronouns, bio, is_admin, created_at, updated_at
		FROM users
	`
	queryUserGroups = `SELECT group_id FROM group_members WHERE user_id = $1 ORDER BY group_id;`
	queryUpdateUser = `
		UPDATE users
		SET username = $2, email = $3, zipcode = $4, pronouns = $5, bio = $6, is_admin = $7,
		    password_hash = COALESCE(NULLIF($8, ''), password_hash), updated_at = $9
		WHERE id = $1;
	`
	queryDeleteUser = `DELETE FROM users WHERE id = $1;`

	queryCreateGroup = `
		INSERT INTO groups (name, description, zipcode, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id;
	`
	querySelectGroup = `
		SELECT id, name, description, zipcode, created_at
		FROM groups
	`
	queryGroupMembers  = `SELECT user_id FROM group_members WHERE group_id = $1 ORDER BY user_id;`
	queryLockGroup     = `SELECT id FROM groups WHERE id = $1 FOR UPDATE;`
	queryUserExists    = `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1);`
	queryGroupExists   = `SELECT EXISTS(SELECT 1 FROM groups WHERE id = $1);`
	queryIsMember      = `SELECT EXISTS(SELECT 1 FROM group_members WHERE group_id = $1 AND user_id = $2);`
	queryInsertMember  = `INSERT INTO group_members (group_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING;`
	queryDeleteMember  = `DELETE FROM group_members WHERE group_id = $1 AND user_id = $2;`
	queryListUserGroup = `
		SELECT g.id, g.name, g.description, g.zipcode, g.created_at
		FROM groups AS g
		JOIN group_members AS m ON m.group_id = g.id
		WHERE m.user_id = $1
		ORDER BY g.id;
	`

	// время не раньше последнего сообщения группы; строка группы уже заблокирована
	queryAppendMessage = `
		INSERT INTO messages (group_id, user_id, username, text, created_at)
		VALUES ($1, $2, $3, $4,
		        GREATEST($5::timestamptz, COALESCE((SELECT MAX(created_at) FROM messages WHERE group_id = $1), $5::timestamptz)))
		RETURNING id, created_at;
	`
	queryRecentMessages = `
		SELECT id, group_id, user_id, username, text, created_at
		FROM messages
		WHERE group_id = $1
		  AND (
		    $2::timestamptz IS NULL
		    OR created_at < $2
		    OR (created_at = $2 AND id < $3)
		  )
		ORDER BY created_at DESC, id DESC
		LIMIT $4;
	`
	queryListMessages = `
		SELECT id, group_id, user_id, username, text, created_at
		FROM messages
		ORDER BY created_at DESC, id DESC
		LIMIT $1;
	`
	queryDeleteMessage = `DELETE FROM messages WHERE id = $1;`

	queryInsertActivity = `
		INSERT INTO activities (
			user_id, group_name, activity_type, description, contact_email, contact_phone,
			lat, lng, city, state, zipcode, centering_level, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at;
	`
	queryListActivities = `
		SELECT id, user_id, group_name, activity_type, description, contact_email, contact_phone,
		       lat, lng, city, state, zipcode, centering_level, created_at
		FROM activities
		ORDER BY created_at DESC, id DESC
		LIMIT $1;
	`

	queryReset = `TRUNCATE activities, messages, group_members, groups, users RESTART IDENTITY CASCADE;`
)
