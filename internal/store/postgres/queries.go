package postgres

const queryLoadDueHarvestDefinitions = `
SELECT id
FROM harvest_definitions
WHERE active
  AND (
        (kind = 'selective' AND next_date IS NOT NULL AND next_date <= $1)
     OR (kind = 'snapshot' AND num_events < 1 AND index_ready)
  )
ORDER BY id
`

const queryLoadHarvestDefinition = `
SELECT
    h.id, h.name, h.comments, h.channel, h.kind, h.active, h.num_events, h.edition,
    h.next_date, h.max_objects, h.max_bytes, h.max_job_running_time_ms,
    h.previous_id, h.index_ready, h.schedule_id,
    s.name AS schedule_name, s.comments AS schedule_comments, s.start_date, s.repeats,
    s.frequency_kind, s.num_units, s.anytime,
    s.on_minute, s.on_hour, s.on_day_of_week, s.on_day_of_month
FROM harvest_definitions h
LEFT JOIN schedules s ON s.id = h.schedule_id
WHERE h.id = $1
`

const configurationColumns = `
    c.domain_name, c.name, c.template, c.seedlists, c.passwords,
    c.max_objects, c.max_bytes, c.max_request_rate, c.comments`

const queryLoadHarvestConfigurations = `
SELECT` + configurationColumns + `
FROM harvest_configurations hc
JOIN domain_configurations c
  ON c.domain_name = hc.domain_name AND c.name = hc.config_name
WHERE hc.harvest_id = $1
ORDER BY c.domain_name, c.name
`

const queryLoadDefaultConfigurations = `
SELECT` + configurationColumns + `
FROM domain_configurations c
WHERE c.is_default
ORDER BY c.domain_name, c.name
`

const queryLoadHistoricalInfo = `
SELECT harvest_id, domain_name, config_name, date,
       size_data_retrieved, count_object_retrieved, stop_reason
FROM harvest_info
WHERE domain_name = $1 AND config_name = $2
ORDER BY date DESC, harvest_id DESC
`

const queryAdvanceHarvestDefinition = `
UPDATE harvest_definitions
SET num_events = $2,
    next_date  = $3,
    edition    = edition + 1
WHERE id = $1
  AND edition = $4
`

const queryGetEdition = `
SELECT edition FROM harvest_definitions WHERE id = $1
`

const queryInsertJob = `
INSERT INTO jobs (id, harvest_id, harvest_num, template, expected_objects,
                  max_objects, max_bytes, max_running_time_ms, priority, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

const queryInsertJobConfiguration = `
INSERT INTO job_configurations (job_id, position, domain_name, config_name)
VALUES ($1, $2, $3, $4)
`

const queryMarkIndexReady = `
UPDATE harvest_definitions
SET index_ready = TRUE,
    edition     = edition + 1
WHERE id = $1
  AND kind = 'snapshot'
`
